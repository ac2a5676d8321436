package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shopspring/decimal"
)

// MaxMessageSize bounds every inbound protocol body.
const MaxMessageSize = 1 << 20

func decode(messageType string, raw []byte, v any) error {
	if len(raw) > MaxMessageSize {
		return ivxperr.New(ivxperr.CodeInvalidMessage, "%s exceeds %d bytes", messageType, MaxMessageSize)
	}
	if err := Validate(messageType, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return ivxperr.Wrap(ivxperr.CodeInvalidMessage, err, "decode %s", messageType)
	}
	return nil
}

func checkAmount(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return ivxperr.New(ivxperr.CodeInvalidMessage, "%s must be positive", field)
	}
	if !d.Equal(d.Truncate(6)) {
		return ivxperr.New(ivxperr.CodeInvalidMessage, "%s has more than 6 decimals", field)
	}
	return nil
}

// ParseServiceRequest validates and decodes a service_request body.
func ParseServiceRequest(raw []byte) (*ServiceRequest, error) {
	var m ServiceRequest
	if err := decode(TypeServiceRequest, raw, &m); err != nil {
		return nil, err
	}
	if err := checkAmount("budget_usdc", m.ServiceRequest.BudgetUSDC); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseServiceQuote validates and decodes a service_quote body.
func ParseServiceQuote(raw []byte) (*ServiceQuote, error) {
	var m ServiceQuote
	if err := decode(TypeServiceQuote, raw, &m); err != nil {
		return nil, err
	}
	if err := checkAmount("price_usdc", m.Quote.PriceUSDC); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseDeliveryRequest validates and decodes a delivery_request body.
func ParseDeliveryRequest(raw []byte) (*DeliveryRequest, error) {
	var m DeliveryRequest
	if err := decode(TypeDeliveryRequest, raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseServiceDelivery validates and decodes a service_delivery body.
func ParseServiceDelivery(raw []byte) (*DeliveryResponse, error) {
	var m DeliveryResponse
	if err := decode(TypeServiceDelivery, raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseServiceCatalog decodes a catalog and checks its envelope.
func ParseServiceCatalog(raw []byte) (*ServiceCatalog, error) {
	var m ServiceCatalog
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, ivxperr.Wrap(ivxperr.CodeInvalidMessage, err, "decode %s", TypeServiceCatalog)
	}
	if m.Protocol != Version || m.MessageType != TypeServiceCatalog {
		return nil, ivxperr.New(ivxperr.CodeInvalidMessage,
			"unexpected envelope %q/%q", m.Protocol, m.MessageType)
	}
	return &m, nil
}

// ParseOrderStatus decodes a status projection.
func ParseOrderStatus(raw []byte) (*OrderStatusResponse, error) {
	var m OrderStatusResponse
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, ivxperr.Wrap(ivxperr.CodeInvalidMessage, err, "decode order status")
	}
	if !m.Status.Valid() {
		return nil, ivxperr.New(ivxperr.CodeInvalidMessage, "unknown status %q", m.Status)
	}
	return &m, nil
}

// ParseErrorEnvelope extracts the structured error from a provider error body.
func ParseErrorEnvelope(raw []byte) (*ivxperr.Error, error) {
	var env ErrorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode error envelope: %w", err)
	}
	if env.Error == nil || env.Error.Code == "" {
		return nil, fmt.Errorf("error envelope has no code")
	}
	return env.Error, nil
}
