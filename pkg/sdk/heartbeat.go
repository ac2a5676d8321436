package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/shamank/ivxp-sdk-go/pkg/client"
	"github.com/shamank/ivxp-sdk-go/pkg/config"
)

// Healthcheck performs a GET request to "<provider><prefix>/healthz" and
// returns the decoded JSON response payload.
func (c *Core) Healthcheck(ctx context.Context, providerURL string) (map[string]any, error) {
	return healthcheck(ctx, http.DefaultClient, providerURL, c.Client.PathPrefix)
}

func healthcheck(ctx context.Context, hc *http.Client, providerURL, prefix string) (map[string]any, error) {
	if err := client.ValidateProviderURL(providerURL); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = config.DefaultPathPrefix
	}
	base := strings.TrimRight(providerURL, "/")
	if p := "/" + strings.Trim(prefix, "/"); p != "/" && !strings.HasSuffix(base, p) {
		base += p
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			zap.L().Error("failed to close healthcheck body", zap.Error(err))
		}
	}(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("healthcheck failed with: %v", resp.StatusCode)
	}
	var result map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode healthcheck response: %w", err)
	}
	zap.L().Debug("provider healthy", zap.String("provider", providerURL), zap.String("proto", resp.Proto))
	return result, nil
}
