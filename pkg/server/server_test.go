package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shamank/ivxp-sdk-go/internal/testutil"
	"github.com/shamank/ivxp-sdk-go/pkg/config"
	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
	"github.com/shamank/ivxp-sdk-go/pkg/order"
	"github.com/shamank/ivxp-sdk-go/pkg/protocol"
	"github.com/shamank/ivxp-sdk-go/pkg/stream"
)

type fakeAdapter struct {
	err    error
	status model.OrderStatus
	got    *protocol.ServiceRequest
	orders []*model.Order
}

func (f *fakeAdapter) HandleCatalog(context.Context) (*protocol.ServiceCatalog, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.ServiceCatalog{
		Protocol:      protocol.Version,
		MessageType:   protocol.TypeServiceCatalog,
		Provider:      "fake",
		WalletAddress: testutil.ProviderAddress.Hex(),
		Services:      []model.ServiceDefinition{{Type: "research", BasePrice: decimal.NewFromInt(1)}},
	}, nil
}

func (f *fakeAdapter) HandleRequest(_ context.Context, req *protocol.ServiceRequest) (*protocol.ServiceQuote, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.ServiceQuote{Protocol: protocol.Version, MessageType: protocol.TypeServiceQuote, OrderID: "ivxp-1"}, nil
}

func (f *fakeAdapter) HandleDeliver(_ context.Context, req *protocol.DeliveryRequest) (*protocol.DeliveryAccepted, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.DeliveryAccepted{Status: "accepted", OrderID: req.OrderID}, nil
}

func (f *fakeAdapter) HandleStatus(_ context.Context, id string) (*protocol.OrderStatusResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.OrderStatusResponse{OrderID: id, Status: f.status}, nil
}

func (f *fakeAdapter) HandleDownload(_ context.Context, id string) (*protocol.DeliveryResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.DeliveryResponse{OrderID: id}, nil
}

func (f *fakeAdapter) ListOrders(context.Context, order.Filter) ([]*model.Order, error) {
	return f.orders, nil
}

func do(t *testing.T, h http.Handler, method, target, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) ivxperr.Code {
	t.Helper()
	e, err := protocol.ParseErrorEnvelope(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("error envelope: %v (%s)", err, rec.Body.String())
	}
	return e.Code
}

func validRequestBody() string {
	return `{"protocol":"IVXP/1.0","message_type":"service_request","timestamp":"2026-01-02T03:04:05Z",` +
		`"client_agent":{"name":"c","wallet_address":"` + testutil.ClientAddress.Hex() + `"},` +
		`"service_request":{"type":"research","description":"d","budget_usdc":5}}`
}

func TestRoutes(t *testing.T) {
	a := &fakeAdapter{status: model.StatusPaid}
	h := New(a, Options{}).Handler()

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"healthz", http.MethodGet, "/ivxp/healthz", "", http.StatusOK},
		{"catalog", http.MethodGet, "/ivxp/catalog", "", http.StatusOK},
		{"request", http.MethodPost, "/ivxp/request", validRequestBody(), http.StatusOK},
		{"status", http.MethodGet, "/ivxp/status/ivxp-1", "", http.StatusOK},
		{"download", http.MethodGet, "/ivxp/download/ivxp-1", "", http.StatusOK},
		{"no prefix", http.MethodGet, "/catalog", "", http.StatusNotFound},
		{"stream disabled", http.MethodGet, "/ivxp/stream/ivxp-1", "", http.StatusNotFound},
		{"orders disabled", http.MethodGet, "/ivxp/orders", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("%s %s = %d, want %d: %s", tt.method, tt.target, rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if a.got == nil || a.got.ServiceRequest.Type != "research" {
		t.Fatalf("adapter did not receive the parsed request: %+v", a.got)
	}
}

func TestCustomPrefix(t *testing.T) {
	h := New(&fakeAdapter{}, Options{PathPrefix: "api/v1/"}).Handler()
	if rec := do(t, h, http.MethodGet, "/api/v1/catalog", ""); rec.Code != http.StatusOK {
		t.Fatalf("catalog = %d", rec.Code)
	}
}

func TestMalformedBodies(t *testing.T) {
	a := &fakeAdapter{}
	h := New(a, Options{}).Handler()
	for _, body := range []string{"", "{", `{"protocol":"IVXP/1.0"}`, strings.Repeat("x", protocol.MaxMessageSize+10)} {
		rec := do(t, h, http.MethodPost, "/ivxp/request", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %.20q: status %d", body, rec.Code)
		}
		if code := errorCode(t, rec); code != ivxperr.CodeInvalidMessage {
			t.Fatalf("code = %s", code)
		}
	}
	if a.got != nil {
		t.Fatal("adapter must not see invalid requests")
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code ivxperr.Code
	}{
		{ivxperr.OrderNotFound("x"), http.StatusNotFound, ivxperr.CodeOrderNotFound},
		{ivxperr.New(ivxperr.CodeOrderNotReady, "wait"), http.StatusAccepted, ivxperr.CodeOrderNotReady},
		{ivxperr.New(ivxperr.CodeOrderAlreadyConsumed, "used"), http.StatusConflict, ivxperr.CodeOrderAlreadyConsumed},
		{ivxperr.New(ivxperr.CodeSignatureInvalid, "bad"), http.StatusUnauthorized, ivxperr.CodeSignatureInvalid},
		{ivxperr.New(ivxperr.CodePaymentPending, "later"), http.StatusPaymentRequired, ivxperr.CodePaymentPending},
		{context.DeadlineExceeded, http.StatusInternalServerError, ivxperr.CodeInternal},
	}
	for _, tt := range tests {
		h := New(&fakeAdapter{err: tt.err}, Options{}).Handler()
		rec := do(t, h, http.MethodGet, "/ivxp/download/x", "")
		if rec.Code != tt.want {
			t.Fatalf("%v: status %d, want %d", tt.err, rec.Code, tt.want)
		}
		if code := errorCode(t, rec); code != tt.code {
			t.Fatalf("%v: code %s, want %s", tt.err, code, tt.code)
		}
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	h := New(&fakeAdapter{err: context.Canceled}, Options{}).Handler()
	rec := do(t, h, http.MethodGet, "/ivxp/catalog", "")
	if strings.Contains(rec.Body.String(), "canceled") {
		t.Fatalf("body leaks cause: %s", rec.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	h := New(&fakeAdapter{}, Options{RateLimit: config.RateLimit{RPS: 1, Burst: 2}}).Handler()
	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, h, http.MethodGet, "/ivxp/catalog", "").Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
	rec := do(t, h, http.MethodGet, "/ivxp/catalog", "")
	if code := errorCode(t, rec); code != ivxperr.CodeRateLimited {
		t.Fatalf("code = %s", code)
	}
	if rec := do(t, h, http.MethodGet, "/ivxp/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz must not be limited, got %d", rec.Code)
	}
}

func TestIPLimiterIsPerClient(t *testing.T) {
	l := newIPLimiter(1, 1)
	if !l.allow("10.0.0.1") || l.allow("10.0.0.1") {
		t.Fatal("first IP should get exactly one token")
	}
	if !l.allow("10.0.0.2") {
		t.Fatal("second IP has its own bucket")
	}
}

func TestOrdersRequiresToken(t *testing.T) {
	a := &fakeAdapter{orders: []*model.Order{{OrderID: "ivxp-1", Status: model.StatusPaid}}}
	h := New(a, Options{AdminToken: "s3cret", Orders: a}).Handler()

	if rec := do(t, h, http.MethodGet, "/ivxp/orders", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("without token = %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/ivxp/orders?status=paid", "", "Authorization", "Bearer s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("with token = %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Orders []protocol.OrderStatusResponse `json:"orders"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Orders) != 1 || out.Orders[0].OrderID != "ivxp-1" {
		t.Fatalf("orders = %+v", out.Orders)
	}
	if rec := do(t, h, http.MethodGet, "/ivxp/orders?status=bogus", "", "Authorization", "Bearer s3cret"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter = %d", rec.Code)
	}
}

func TestStreamRoute(t *testing.T) {
	hub := stream.NewHub(time.Hour)
	a := &fakeAdapter{status: model.StatusProcessing}
	srv := httptest.NewServer(New(a, Options{Hub: hub}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ivxp/stream/ivxp-1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	next := func() string {
		select {
		case l, ok := <-lines:
			if !ok {
				return "<eof>"
			}
			return l
		case <-time.After(2 * time.Second):
			t.Fatal("timed out reading stream")
			return ""
		}
	}

	if l := next(); l != ": connected" {
		t.Fatalf("first line = %q", l)
	}
	next()
	if l := next(); l != "event: status_update" {
		t.Fatalf("snapshot event = %q", l)
	}
	if l := next(); !strings.Contains(l, `"processing"`) {
		t.Fatalf("snapshot data = %q", l)
	}

	for hub.Count("ivxp-1") == 0 {
		time.Sleep(time.Millisecond)
	}
	hub.Push("ivxp-1", stream.StatusEvent("ivxp-1", model.StatusDelivered, "abc"))
	for {
		l := next()
		if l == "event: completed" {
			break
		}
		if l == "<eof>" {
			t.Fatal("stream ended before completed event")
		}
	}
}

func TestStreamUnknownOrder(t *testing.T) {
	h := New(&fakeAdapter{err: ivxperr.OrderNotFound("nope")}, Options{Hub: stream.NewHub(0)}).Handler()
	rec := do(t, h, http.MethodGet, "/ivxp/stream/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
