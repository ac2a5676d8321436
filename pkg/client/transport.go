package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shamank/ivxp-sdk-go/pkg/config"
	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/protocol"
)

// ProviderAPI is the client side of the protocol: the five calls a client
// makes against a provider.
type ProviderAPI interface {
	GetCatalog(ctx context.Context, providerURL string) (*protocol.ServiceCatalog, error)
	RequestQuote(ctx context.Context, providerURL string, req *protocol.ServiceRequest) (*protocol.ServiceQuote, error)
	RequestDelivery(ctx context.Context, providerURL string, req *protocol.DeliveryRequest) (*protocol.DeliveryAccepted, error)
	GetStatus(ctx context.Context, providerURL, orderID string) (*protocol.OrderStatusResponse, error)
	Download(ctx context.Context, providerURL, orderID string) (*protocol.DeliveryResponse, error)
}

// maxDownloadSize bounds deliverable downloads.
const maxDownloadSize = 64 << 20

// HTTPTransport implements ProviderAPI over JSON/HTTP.
type HTTPTransport struct {
	Client *http.Client
	// PathPrefix is appended to provider URLs that do not already end with it.
	PathPrefix string
}

var _ ProviderAPI = (*HTTPTransport)(nil)

// NewHTTPTransport returns a transport with the given per-request timeout.
func NewHTTPTransport(timeout time.Duration, pathPrefix string) *HTTPTransport {
	if pathPrefix == "" {
		pathPrefix = config.DefaultPathPrefix
	}
	return &HTTPTransport{Client: &http.Client{Timeout: timeout}, PathPrefix: pathPrefix}
}

// ValidateProviderURL checks that u is an absolute http(s) URL.
func ValidateProviderURL(u string) error {
	parsed, err := url.Parse(u)
	if err != nil {
		return ivxperr.InvalidParams("provider URL is invalid: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ivxperr.InvalidParams("provider URL must use http or https")
	}
	if parsed.Host == "" {
		return ivxperr.InvalidParams("provider URL has no host")
	}
	return nil
}

func (t *HTTPTransport) endpoint(providerURL string, parts ...string) string {
	base := strings.TrimRight(providerURL, "/")
	prefix := "/" + strings.Trim(t.PathPrefix, "/")
	if prefix != "/" && !strings.HasSuffix(base, prefix) {
		base += prefix
	}
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return base + "/" + strings.Join(escaped, "/")
}

func (t *HTTPTransport) httpClient() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

// do performs one round trip and returns the body of a 200 answer. Any other
// status becomes a provider_error wrapping the provider's structured error.
func (t *HTTPTransport) do(ctx context.Context, step, providerURL, method, target string, in any, limit int64) ([]byte, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, ivxperr.Wrap(ivxperr.CodeInvalidParams, err, "encode %s body", step).WithStep(step)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, ivxperr.Wrap(ivxperr.CodeInvalidParams, err, "build %s request", step).WithStep(step)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	zap.L().Debug("provider request", zap.String("step", step), zap.String("method", method), zap.String("url", target))
	resp, err := t.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ivxperr.Wrap(ivxperr.CodeTimeout, ctx.Err(), "%s: %s", step, err).WithStep(step)
		}
		e := ivxperr.Wrap(ivxperr.CodeServiceUnavailable, err, "provider unreachable").WithStep(step)
		e.ProviderURL = providerURL
		return nil, e
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		e := ivxperr.Wrap(ivxperr.CodeServiceUnavailable, err, "read provider response").WithStep(step)
		e.ProviderURL = providerURL
		return nil, e
	}
	if int64(len(raw)) > limit {
		return nil, ivxperr.New(ivxperr.CodeInvalidMessage, "provider response exceeds %d bytes", limit).WithStep(step)
	}
	if resp.StatusCode == http.StatusOK {
		return raw, nil
	}
	return nil, rejection(step, providerURL, resp.StatusCode, raw)
}

func rejection(step, providerURL string, status int, raw []byte) error {
	inner, err := protocol.ParseErrorEnvelope(raw)
	if err != nil {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		if msg == "" {
			msg = http.StatusText(status)
		}
		inner = &ivxperr.Error{Code: ivxperr.CodeForHTTPStatus(status), Message: msg}
	}
	// A not-ready download is a normal answer, not a provider failure.
	if inner.Code == ivxperr.CodeOrderNotReady {
		return inner.WithStep(step)
	}
	e := ivxperr.ProviderRejected(step, providerURL, status, inner.Message)
	e.Err = inner
	e.OrderID = inner.OrderID
	e.TxHash = inner.TxHash
	return e
}

func decodeAs[T any](step string, raw []byte, parse func([]byte) (*T, error)) (*T, error) {
	v, err := parse(raw)
	if err != nil {
		if e, ok := ivxperr.As(err); ok {
			return nil, e.WithStep(step)
		}
		return nil, err
	}
	return v, nil
}

func (t *HTTPTransport) GetCatalog(ctx context.Context, providerURL string) (*protocol.ServiceCatalog, error) {
	raw, err := t.do(ctx, "catalog", providerURL, http.MethodGet, t.endpoint(providerURL, "catalog"), nil, protocol.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	return decodeAs("catalog", raw, protocol.ParseServiceCatalog)
}

func (t *HTTPTransport) RequestQuote(ctx context.Context, providerURL string, req *protocol.ServiceRequest) (*protocol.ServiceQuote, error) {
	raw, err := t.do(ctx, "quote", providerURL, http.MethodPost, t.endpoint(providerURL, "request"), req, protocol.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	return decodeAs("quote", raw, protocol.ParseServiceQuote)
}

func (t *HTTPTransport) RequestDelivery(ctx context.Context, providerURL string, req *protocol.DeliveryRequest) (*protocol.DeliveryAccepted, error) {
	raw, err := t.do(ctx, "deliver", providerURL, http.MethodPost, t.endpoint(providerURL, "deliver"), req, protocol.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	var ack protocol.DeliveryAccepted
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, ivxperr.Wrap(ivxperr.CodeInvalidMessage, err, "decode delivery acknowledgment").WithStep("deliver")
	}
	if ack.Status != "accepted" {
		return nil, ivxperr.New(ivxperr.CodeInvalidMessage, "unexpected delivery status %q", ack.Status).WithStep("deliver")
	}
	return &ack, nil
}

func (t *HTTPTransport) GetStatus(ctx context.Context, providerURL, orderID string) (*protocol.OrderStatusResponse, error) {
	raw, err := t.do(ctx, "poll", providerURL, http.MethodGet, t.endpoint(providerURL, "status", orderID), nil, protocol.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	return decodeAs("poll", raw, protocol.ParseOrderStatus)
}

func (t *HTTPTransport) Download(ctx context.Context, providerURL, orderID string) (*protocol.DeliveryResponse, error) {
	raw, err := t.do(ctx, "download", providerURL, http.MethodGet, t.endpoint(providerURL, "download", orderID), nil, maxDownloadSize)
	if err != nil {
		return nil, err
	}
	var resp protocol.DeliveryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, ivxperr.Wrap(ivxperr.CodeInvalidMessage, err, "decode deliverable").WithStep("download")
	}
	if resp.OrderID != orderID {
		return nil, ivxperr.New(ivxperr.CodeInvalidMessage, "deliverable is for order %s", resp.OrderID).WithStep("download")
	}
	return &resp, nil
}

// ProviderCode returns the code a provider answered with. For a
// provider_error it is the code of the provider's own error envelope.
func ProviderCode(err error) ivxperr.Code {
	e, ok := ivxperr.As(err)
	if !ok {
		return ivxperr.CodeInternal
	}
	if e.Code == ivxperr.CodeProviderError {
		if inner, ok := ivxperr.As(e.Err); ok {
			return inner.Code
		}
	}
	return e.Code
}
