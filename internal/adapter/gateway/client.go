// Package gateway calls the customer, inventory and identity services.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/gentlecorp/shopping-cart/internal/core/domain"
)

// BaseURL renders schema://host:port. Empty parts fall back to http and
// localhost.
func BaseURL(schema, host, port string) string {
	if schema == "" {
		schema = "http"
	}
	if host == "" {
		host = "localhost"
	}
	base := schema + "://" + host
	if port != "" {
		base += ":" + port
	}
	return base
}

type jsonClient struct {
	http    *http.Client
	baseURL string
	service string
	logger  *zap.Logger
}

func newJSONClient(httpClient *http.Client, baseURL, service string, logger *zap.Logger) jsonClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return jsonClient{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		service: service,
		logger:  logger.With(zap.String("service", service)),
	}
}

// getJSON fetches path and decodes the body into out. Remote statuses map to
// domain errors; every other failure is reported as not found.
func (c jsonClient) getJSON(ctx context.Context, path, versionTag, authorization string, out any) error {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Error("build request", zap.String("url", url), zap.Error(err))
		return fmt.Errorf("%s %s: %w", c.service, path, domain.ErrNotFound)
	}
	req.Header.Set("Accept", "application/json")
	if versionTag != "" {
		req.Header.Set("If-None-Match", versionTag)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("request failed", zap.String("url", url), zap.Error(err))
		return fmt.Errorf("%s %s: %w", c.service, path, domain.ErrNotFound)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", c.service, path, domain.ErrUnauthorized)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", c.service, path, domain.ErrForbidden)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", c.service, path, domain.ErrNotFound)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%s %s: %w", c.service, path, domain.ErrInvalidArgument)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("unexpected status",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return fmt.Errorf("%s %s: status %d: %w", c.service, path, resp.StatusCode, domain.ErrNotFound)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Error("decode response", zap.String("url", url), zap.Error(err))
		return fmt.Errorf("%s %s: %w", c.service, path, domain.ErrNotFound)
	}
	return nil
}
