package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPGatewayOptions configures the hosted SMS function client.
type HTTPGatewayOptions struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// HTTPGateway posts each broadcast to a hosted SMS function that fans it out
// to the recipients and answers with per-recipient results.
type HTTPGateway struct {
	client *resty.Client
	url    string
	logger *slog.Logger
}

type sendRequest struct {
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
	Contacts  []Recipient `json:"contacts"`
	Critical  bool        `json:"critical,omitempty"`
	Reason    Reason      `json:"reason,omitempty"`
}

type sendError struct {
	Error string `json:"error"`
}

// NewHTTPGateway constructs an HTTPGateway. Requests are not retried: a
// repeated POST would text every contact twice.
func NewHTTPGateway(opts HTTPGatewayOptions) (*HTTPGateway, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("notify: gateway url is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}

	return &HTTPGateway{
		client: client,
		url:    opts.URL,
		logger: opts.Logger.With("component", "notify.HTTPGateway"),
	}, nil
}

// Send implements Gateway.
func (g *HTTPGateway) Send(ctx context.Context, msg Message) (Report, error) {
	if len(msg.Recipients) == 0 {
		return Report{}, nil
	}

	var report Report
	var failure sendError
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(sendRequest{
			Latitude:  msg.Latitude,
			Longitude: msg.Longitude,
			Contacts:  msg.Recipients,
			Critical:  msg.Critical,
			Reason:    msg.Reason,
		}).
		SetResult(&report).
		SetError(&failure).
		Post(g.url)
	if err != nil {
		return Report{}, fmt.Errorf("notify: call gateway: %w", err)
	}
	if resp.IsError() {
		g.logger.WarnContext(ctx, "gateway rejected request",
			"status_code", resp.StatusCode(),
			"error", failure.Error,
		)
		return Report{}, fmt.Errorf("notify: gateway returned %d: %s", resp.StatusCode(), failure.Error)
	}

	g.logger.DebugContext(ctx, "gateway call completed",
		"delivered", report.Delivered(),
		"failed", report.Failed(),
	)
	return report, nil
}
