package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shamank/ivxp-sdk-go/pkg/model"
)

// Result is the output of a service handler.
type Result struct {
	Content     []byte
	ContentType string
	Format      string
	Metadata    map[string]string
}

// Handler fulfils a paid order. It runs at most once per order; a returned
// error or a panic moves the order to delivery_failed.
type Handler func(ctx context.Context, o *model.Order) (*Result, error)

// TextHandler adapts a function producing markdown text.
func TextHandler(fn func(ctx context.Context, o *model.Order) (string, error)) Handler {
	return func(ctx context.Context, o *model.Order) (*Result, error) {
		text, err := fn(ctx, o)
		if err != nil {
			return nil, err
		}
		return &Result{Content: []byte(text), ContentType: "text/markdown", Format: "markdown"}, nil
	}
}

// ReportHandler produces a short markdown report echoing the request. It is
// the default handler of the reference provider binary.
func ReportHandler(providerName string) Handler {
	return TextHandler(func(_ context.Context, o *model.Order) (string, error) {
		title := o.ServiceType
		if title != "" {
			title = strings.ToUpper(title[:1]) + title[1:]
		}
		var b strings.Builder
		fmt.Fprintf(&b, "# %s Deliverable\n\n", title)
		fmt.Fprintf(&b, "## Summary\nService completed for: %s\n\n", o.Description)
		fmt.Fprintf(&b, "## Order\n- id: %s\n- price: %s USDC\n- network: %s\n\n", o.OrderID, o.Price, o.Network)
		fmt.Fprintf(&b, "---\n*Delivered by %s via IVXP/1.0*\n", providerName)
		return b.String(), nil
	})
}

type registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func (r *registry) set(serviceType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]Handler)
	}
	r.handlers[serviceType] = h
}

func (r *registry) get(serviceType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[serviceType]
	return h, ok
}

// run calls h, turning a panic into an error.
func run(ctx context.Context, h Handler, o *model.Order) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("service handler panicked: %v", r)
		}
	}()
	res, err = h(ctx, o)
	if err == nil && res == nil {
		err = fmt.Errorf("service handler returned no result")
	}
	return res, err
}
