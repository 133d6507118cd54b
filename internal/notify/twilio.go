package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTwilioBaseURL is the Twilio REST API endpoint.
const DefaultTwilioBaseURL = "https://api.twilio.com"

// TwilioOptions configures a TwilioGateway.
type TwilioOptions struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// TwilioGateway sends one SMS per recipient through the Twilio Messages API.
type TwilioGateway struct {
	client     *resty.Client
	accountSID string
	from       string
	logger     *slog.Logger
}

type twilioMessage struct {
	SID string `json:"sid"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewTwilioGateway constructs a TwilioGateway.
func NewTwilioGateway(opts TwilioOptions) (*TwilioGateway, error) {
	if opts.AccountSID == "" || opts.AuthToken == "" || opts.From == "" {
		return nil, errors.New("notify: twilio account sid, auth token and sender are required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultTwilioBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetBasicAuth(opts.AccountSID, opts.AuthToken).
		SetHeader("Accept", "application/json")

	return &TwilioGateway{
		client:     client,
		accountSID: opts.AccountSID,
		from:       opts.From,
		logger:     opts.Logger.With("component", "notify.TwilioGateway"),
	}, nil
}

// Send implements Gateway. Each recipient is attempted once; failures are
// recorded in the report and never abort the remaining recipients.
func (g *TwilioGateway) Send(ctx context.Context, msg Message) (Report, error) {
	body := Text(msg)
	report := Report{Results: make([]Result, 0, len(msg.Recipients))}

	for _, recipient := range msg.Recipients {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Results = append(report.Results, g.sendOne(ctx, recipient, body))
	}
	return report, nil
}

func (g *TwilioGateway) sendOne(ctx context.Context, recipient Recipient, body string) Result {
	var created twilioMessage
	var failure twilioError
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("accountSid", g.accountSID).
		SetFormData(map[string]string{
			"To":   recipient.Phone,
			"From": g.from,
			"Body": body,
		}).
		SetResult(&created).
		SetError(&failure).
		Post("/2010-04-01/Accounts/{accountSid}/Messages.json")
	if err != nil {
		g.logger.WarnContext(ctx, "sms request failed", "phone", recipient.Phone, "error", err)
		return Result{Phone: recipient.Phone, Error: err.Error()}
	}
	if resp.IsError() {
		reason := failure.Message
		if reason == "" {
			reason = fmt.Sprintf("twilio returned %d", resp.StatusCode())
		}
		g.logger.WarnContext(ctx, "sms rejected", "phone", recipient.Phone, "status_code", resp.StatusCode(), "error", reason)
		return Result{Phone: recipient.Phone, Error: reason}
	}

	g.logger.InfoContext(ctx, "sms sent", "phone", recipient.Phone, "sid", created.SID)
	return Result{Phone: recipient.Phone, Success: true, ProviderMessageID: created.SID}
}
