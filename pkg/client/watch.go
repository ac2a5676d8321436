package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/stream"
)

// Watcher is implemented by transports that can follow the order-status
// stream of providers advertising the sse_stream capability.
type Watcher interface {
	WatchOrder(ctx context.Context, providerURL, orderID string) (<-chan stream.Event, error)
}

var _ Watcher = (*HTTPTransport)(nil)

// WatchOrder opens GET /stream/{order_id}. The channel is closed after a
// terminal event, when the provider ends the stream or when ctx is done.
func (t *HTTPTransport) WatchOrder(ctx context.Context, providerURL, orderID string) (<-chan stream.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint(providerURL, "stream", orderID), nil)
	if err != nil {
		return nil, ivxperr.Wrap(ivxperr.CodeInvalidParams, err, "build stream request").WithStep("stream")
	}
	req.Header.Set("Accept", "text/event-stream")

	// The per-request timeout of t.Client would cut a long-lived stream.
	hc := &http.Client{Transport: t.httpClient().Transport}
	resp, err := hc.Do(req)
	if err != nil {
		e := ivxperr.Wrap(ivxperr.CodeServiceUnavailable, err, "open order stream").WithStep("stream")
		e.ProviderURL = providerURL
		return nil, e
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, rejection("stream", providerURL, resp.StatusCode, raw)
	}

	out := make(chan stream.Event, 8)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		readEvents(ctx, resp.Body, out)
	}()
	return out, nil
}

// readEvents parses a text/event-stream body. Comment lines (keep-alives)
// are skipped; each blank line dispatches the accumulated data field.
func readEvents(ctx context.Context, body io.Reader, out chan<- stream.Event) {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var name string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				name = ""
				continue
			}
			var ev stream.Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				zap.L().Warn("skipping malformed stream event", zap.String("event", name), zap.Error(err))
			} else {
				if ev.Type == "" {
					ev.Type = stream.EventType(name)
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Type.Terminal() {
					return
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		zap.L().Debug("order stream ended", zap.Error(err))
	}
}
