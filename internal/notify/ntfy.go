// Package notify delivers human-readable status messages to the user.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rollcall/internal/external"
	"rollcall/internal/types"
)

// DefaultNtfyURL is the public ntfy server.
const DefaultNtfyURL = "https://ntfy.sh"

// NtfyConfig holds the configuration for creating a Ntfy notifier.
type NtfyConfig struct {
	// BaseURL is the ntfy server. Defaults to DefaultNtfyURL.
	BaseURL string
	// Topic is the ntfy topic messages are published to.
	Topic  string
	Logger *slog.Logger
}

// Ntfy publishes messages to a ntfy topic. It implements types.Notifier.
type Ntfy struct {
	base     *external.BaseClient
	topicURL string
	logger   *slog.Logger
}

var _ types.Notifier = (*Ntfy)(nil)

// NewNtfy creates a Ntfy notifier publishing to cfg.Topic.
func NewNtfy(httpClient *http.Client, cfg NtfyConfig, opts ...external.BaseClientOption) (*Ntfy, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("ntfy: topic is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultNtfyURL
	}
	topicURL, err := url.JoinPath(baseURL, url.PathEscape(cfg.Topic))
	if err != nil {
		return nil, fmt.Errorf("ntfy: invalid server URL %q: %w", baseURL, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := external.NewBaseClient(
		httpClient,
		"ntfy",
		external.RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		external.DefaultUserAgent,
		opts...,
	)

	return &Ntfy{base: base, topicURL: topicURL, logger: logger}, nil
}

// Notify posts message as the body of a ntfy publish request.
func (n *Ntfy) Notify(ctx context.Context, message string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.topicURL, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("ntfy: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := n.base.Do(req)
	if err != nil {
		return fmt.Errorf("ntfy: publish failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("ntfy returned %d", resp.StatusCode), nil)
	}

	n.logger.DebugContext(ctx, "notification published", types.LogAttrs(ctx)...)
	return nil
}
