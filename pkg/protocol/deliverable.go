package protocol

import (
	"encoding/base64"
	"time"
	"unicode/utf8"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
)

// EncodeDeliverable converts d to its wire form. Valid UTF-8 text travels
// as-is, anything else as base64.
func EncodeDeliverable(d *model.Deliverable, serviceType string) WireDeliverable {
	w := WireDeliverable{
		Format:      d.Format,
		ContentType: d.ContentType,
		Metadata:    d.Metadata,
	}
	if serviceType != "" {
		w.Type = serviceType + "_deliverable"
	}
	if d.IsText() && utf8.Valid(d.Content) {
		w.ContentEncoding = EncodingUTF8
		w.Content = string(d.Content)
	} else {
		w.ContentEncoding = EncodingBase64
		w.Content = base64.StdEncoding.EncodeToString(d.Content)
	}
	return w
}

// Bytes returns the decoded content of w.
func (w WireDeliverable) Bytes() ([]byte, error) {
	switch w.ContentEncoding {
	case EncodingBase64:
		b, err := base64.StdEncoding.DecodeString(w.Content)
		if err != nil {
			return nil, ivxperr.Wrap(ivxperr.CodeInvalidMessage, err, "decode deliverable content")
		}
		return b, nil
	case EncodingUTF8, "":
		return []byte(w.Content), nil
	default:
		return nil, ivxperr.New(ivxperr.CodeInvalidMessage, "unknown content encoding %q", w.ContentEncoding)
	}
}

// NewDeliveryResponse builds the download and push payload for d.
func NewDeliveryResponse(d *model.Deliverable, serviceType string, provider Agent, deliveredAt time.Time) *DeliveryResponse {
	return &DeliveryResponse{
		Protocol:      Version,
		MessageType:   TypeServiceDelivery,
		Timestamp:     deliveredAt.UTC(),
		OrderID:       d.OrderID,
		Status:        "completed",
		ProviderAgent: provider,
		Deliverable:   EncodeDeliverable(d, serviceType),
		ContentHash:   d.ContentHash,
		DeliveredAt:   deliveredAt.UTC(),
	}
}

// ToDeliverable decodes the payload back into a model.Deliverable. The
// content hash is copied from the payload; callers must verify it.
func (r *DeliveryResponse) ToDeliverable() (*model.Deliverable, error) {
	content, err := r.Deliverable.Bytes()
	if err != nil {
		return nil, err
	}
	return &model.Deliverable{
		OrderID:     r.OrderID,
		Content:     content,
		ContentType: r.Deliverable.ContentType,
		ContentHash: r.ContentHash,
		Format:      r.Deliverable.Format,
		Metadata:    r.Deliverable.Metadata,
		CreatedAt:   r.DeliveredAt,
	}, nil
}
