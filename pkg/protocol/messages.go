// Package protocol defines the IVXP/1.0 wire messages exchanged between
// clients and providers, their JSON-schema validated parsers, and the exact
// text formats of signed messages.
package protocol

import (
	"time"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
	"github.com/shopspring/decimal"
)

// Version is the protocol identifier carried by every message.
const Version = "IVXP/1.0"

// Message types.
const (
	TypeServiceCatalog  = "service_catalog"
	TypeServiceRequest  = "service_request"
	TypeServiceQuote    = "service_quote"
	TypeDeliveryRequest = "delivery_request"
	TypeServiceDelivery = "service_delivery"
)

// Capabilities advertised in catalogs.
const (
	CapabilitySSEStream    = "sse_stream"
	CapabilityPushDelivery = "push_delivery"
)

// Content encodings of a wire deliverable.
const (
	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"
)

// Agent identifies a protocol participant.
type Agent struct {
	Name            string `json:"name"`
	WalletAddress   string `json:"wallet_address"`
	ContactEndpoint string `json:"contact_endpoint,omitempty"`
}

// ServiceCatalog is returned by GET /catalog.
type ServiceCatalog struct {
	Protocol      string                    `json:"protocol"`
	MessageType   string                    `json:"message_type"`
	Timestamp     time.Time                 `json:"timestamp"`
	Provider      string                    `json:"provider"`
	WalletAddress string                    `json:"wallet_address"`
	Services      []model.ServiceDefinition `json:"services"`
	Capabilities  []string                  `json:"capabilities,omitempty"`
}

// Has reports whether the catalog advertises capability.
func (c *ServiceCatalog) Has(capability string) bool {
	for _, v := range c.Capabilities {
		if v == capability {
			return true
		}
	}
	return false
}

// Service looks up a service definition by type.
func (c *ServiceCatalog) Service(serviceType string) (model.ServiceDefinition, bool) {
	for _, s := range c.Services {
		if s.Type == serviceType {
			return s, true
		}
	}
	return model.ServiceDefinition{}, false
}

// RequestDetails is the service_request body of a ServiceRequest.
type RequestDetails struct {
	Type           string          `json:"type"`
	Description    string          `json:"description"`
	BudgetUSDC     decimal.Decimal `json:"budget_usdc"`
	DeliveryFormat string          `json:"delivery_format,omitempty"`
	Deadline       *time.Time      `json:"deadline,omitempty"`
}

// ServiceRequest is posted to /request.
type ServiceRequest struct {
	Protocol       string         `json:"protocol"`
	MessageType    string         `json:"message_type"`
	Timestamp      time.Time      `json:"timestamp"`
	ClientAgent    Agent          `json:"client_agent"`
	ServiceRequest RequestDetails `json:"service_request"`
}

// QuoteDetails carries price and payment instructions.
type QuoteDetails struct {
	PriceUSDC         decimal.Decimal `json:"price_usdc"`
	EstimatedDelivery time.Time       `json:"estimated_delivery"`
	PaymentAddress    string          `json:"payment_address"`
	Network           string          `json:"network"`
	TokenContract     string          `json:"token_contract,omitempty"`
	ExpiresAt         time.Time       `json:"expires_at"`
}

// Terms are the commercial terms attached to a quote.
type Terms struct {
	// PaymentTimeout is the quote validity in seconds.
	PaymentTimeout int64  `json:"payment_timeout"`
	RevisionPolicy string `json:"revision_policy,omitempty"`
	RefundPolicy   string `json:"refund_policy,omitempty"`
}

// ServiceQuote answers a ServiceRequest.
type ServiceQuote struct {
	Protocol      string       `json:"protocol"`
	MessageType   string       `json:"message_type"`
	Timestamp     time.Time    `json:"timestamp"`
	OrderID       string       `json:"order_id"`
	ProviderAgent Agent        `json:"provider_agent"`
	Quote         QuoteDetails `json:"quote"`
	Terms         *Terms       `json:"terms,omitempty"`
}

// PaymentProof references the on-chain payment of an order.
type PaymentProof struct {
	TxHash      string           `json:"tx_hash"`
	FromAddress string           `json:"from_address"`
	Network     string           `json:"network"`
	ToAddress   string           `json:"to_address,omitempty"`
	AmountUSDC  *decimal.Decimal `json:"amount_usdc,omitempty"`
	BlockNumber uint64           `json:"block_number,omitempty"`
}

// DeliveryRequest is posted to /deliver after payment.
type DeliveryRequest struct {
	Protocol         string       `json:"protocol"`
	MessageType      string       `json:"message_type"`
	Timestamp        time.Time    `json:"timestamp"`
	OrderID          string       `json:"order_id"`
	PaymentProof     PaymentProof `json:"payment_proof"`
	DeliveryEndpoint string       `json:"delivery_endpoint,omitempty"`
	Signature        string       `json:"signature"`
	SignedMessage    string       `json:"signed_message"`
}

// DeliveryAccepted acknowledges a DeliveryRequest. Processing continues
// asynchronously.
type DeliveryAccepted struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

// OrderStatusResponse is returned by GET /status/{order_id}.
type OrderStatusResponse struct {
	OrderID     string            `json:"order_id"`
	Status      model.OrderStatus `json:"status"`
	ServiceType string            `json:"service_type"`
	PriceUSDC   decimal.Decimal   `json:"price_usdc"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ContentHash string            `json:"content_hash,omitempty"`
}

// StatusFromOrder projects an order to its public status view.
func StatusFromOrder(o *model.Order) *OrderStatusResponse {
	return &OrderStatusResponse{
		OrderID:     o.OrderID,
		Status:      o.Status,
		ServiceType: o.ServiceType,
		PriceUSDC:   o.Price,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		ContentHash: o.ContentHash,
	}
}

// WireDeliverable is the deliverable as it travels in a DeliveryResponse.
type WireDeliverable struct {
	Type            string            `json:"type,omitempty"`
	Format          string            `json:"format,omitempty"`
	ContentType     string            `json:"content_type"`
	ContentEncoding string            `json:"content_encoding"`
	Content         string            `json:"content"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// DeliveryResponse is returned by GET /download/{order_id} and is also the
// push delivery payload.
type DeliveryResponse struct {
	Protocol      string          `json:"protocol"`
	MessageType   string          `json:"message_type"`
	Timestamp     time.Time       `json:"timestamp"`
	OrderID       string          `json:"order_id"`
	Status        string          `json:"status"`
	ProviderAgent Agent           `json:"provider_agent"`
	Deliverable   WireDeliverable `json:"deliverable"`
	ContentHash   string          `json:"content_hash"`
	DeliveredAt   time.Time       `json:"delivered_at"`
}

// ErrorEnvelope is the body of every non-2xx provider response.
type ErrorEnvelope struct {
	Error *ivxperr.Error `json:"error"`
}
