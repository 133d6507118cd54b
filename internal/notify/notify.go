// Package notify delivers check-in location messages to emergency contacts.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Recipient is one contact that should receive the message.
type Recipient struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// Reason says why a critical alert was raised.
type Reason string

const (
	// ReasonMissedCheckins: no successful check-in within two intervals.
	ReasonMissedCheckins Reason = "missed_checkins"
	// ReasonDeactivationLimit: the session outlived its deactivation limit.
	ReasonDeactivationLimit Reason = "deactivation_limit"
)

// Message is a single broadcast of the owner's position.
type Message struct {
	Latitude   float64
	Longitude  float64
	Recipients []Recipient
	// Critical marks escalation alerts; providers prefix them as urgent.
	Critical bool
	Reason   Reason
	// SenderName is the owner's display name, when known.
	SenderName string
	SentAt     time.Time
}

// Result is the delivery outcome for one recipient.
type Result struct {
	Phone             string `json:"phone"`
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"sid,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Report aggregates per-recipient results. A report with failures is still a
// completed delivery attempt; callers do not retry individual recipients.
type Report struct {
	Results []Result `json:"results"`
}

// Delivered counts successful recipients.
func (r Report) Delivered() int {
	count := 0
	for _, result := range r.Results {
		if result.Success {
			count++
		}
	}
	return count
}

// Failed counts unsuccessful recipients.
func (r Report) Failed() int {
	return len(r.Results) - r.Delivered()
}

// Gateway sends one message to every recipient. An error means the gateway
// could not be reached at all; per-recipient failures are reported in Report.
type Gateway interface {
	Send(ctx context.Context, msg Message) (Report, error)
}

// MapsLink returns a link that opens the coordinates in a map application.
func MapsLink(latitude, longitude float64) string {
	return "https://maps.google.com/?q=" +
		strconv.FormatFloat(latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(longitude, 'f', -1, 64)
}

// Text renders the SMS body for msg.
func Text(msg Message) string {
	sender := ""
	if msg.SenderName != "" {
		sender = " from " + msg.SenderName
	}
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	body := fmt.Sprintf("SOS Alert%s! I need help.\nLocation: %s\nTime: %s",
		sender, MapsLink(msg.Latitude, msg.Longitude), sentAt.UTC().Format(time.RFC1123))
	if msg.Critical {
		body = urgentPrefix(msg.Reason) + body
	}
	return body
}

func urgentPrefix(reason Reason) string {
	switch reason {
	case ReasonDeactivationLimit:
		return "URGENT: check-in session passed its time limit without being marked safe. "
	default:
		return "URGENT: no check-in received. "
	}
}

// LogGateway writes messages to the log and reports them delivered. It backs
// development setups without an SMS provider.
type LogGateway struct {
	logger *slog.Logger
}

// NewLogGateway constructs a LogGateway.
func NewLogGateway(logger *slog.Logger) *LogGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogGateway{logger: logger.With("component", "notify.LogGateway")}
}

// Send implements Gateway.
func (g *LogGateway) Send(ctx context.Context, msg Message) (Report, error) {
	report := Report{Results: make([]Result, 0, len(msg.Recipients))}
	for i, recipient := range msg.Recipients {
		g.logger.InfoContext(ctx, "notification logged",
			"phone", recipient.Phone,
			"critical", msg.Critical,
			"reason", msg.Reason,
			"body", Text(msg),
		)
		report.Results = append(report.Results, Result{
			Phone:             recipient.Phone,
			Success:           true,
			ProviderMessageID: fmt.Sprintf("log-%d", i+1),
		})
	}
	return report, nil
}
