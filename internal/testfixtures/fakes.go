package testfixtures

import (
	"context"
	"sync"

	"github.com/example/safety-checkin/internal/events"
	"github.com/example/safety-checkin/internal/location"
	"github.com/example/safety-checkin/internal/notify"
)

// LocationProvider is a scripted location.Provider. Owners without a script
// receive the default position.
type LocationProvider struct {
	mu        sync.Mutex
	fallback  location.Position
	positions map[string]location.Position
	errs      map[string]error
	calls     map[string]int
}

// NewLocationProvider returns a provider that reports position for everyone.
func NewLocationProvider(position location.Position) *LocationProvider {
	return &LocationProvider{
		fallback:  position,
		positions: make(map[string]location.Position),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

// SetPosition scripts the position of ownerID and clears any scripted error.
func (p *LocationProvider) SetPosition(ownerID string, position location.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[ownerID] = position
	delete(p.errs, ownerID)
}

// Fail makes every fetch for ownerID return err until cleared with Recover.
func (p *LocationProvider) Fail(ownerID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		err = location.ErrTimeout
	}
	p.errs[ownerID] = err
}

// Recover clears a scripted failure.
func (p *LocationProvider) Recover(ownerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.errs, ownerID)
}

// Calls returns how many fetches were made for ownerID.
func (p *LocationProvider) Calls(ownerID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[ownerID]
}

// CurrentPosition implements location.Provider.
func (p *LocationProvider) CurrentPosition(ctx context.Context, ownerID string) (location.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[ownerID]++
	if err := ctx.Err(); err != nil {
		return location.Position{}, err
	}
	if err, ok := p.errs[ownerID]; ok {
		return location.Position{}, err
	}
	if position, ok := p.positions[ownerID]; ok {
		return position, nil
	}
	return p.fallback, nil
}

// Gateway records messages and reports every recipient as delivered unless
// told otherwise.
type Gateway struct {
	mu       sync.Mutex
	messages []notify.Message
	failing  map[string]bool
	err      error
}

// NewGateway returns an empty recording gateway.
func NewGateway() *Gateway {
	return &Gateway{failing: make(map[string]bool)}
}

// FailPhone makes deliveries to phone fail.
func (g *Gateway) FailPhone(phone string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failing[phone] = true
}

// SetError makes Send fail outright with err; nil restores delivery.
func (g *Gateway) SetError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// Messages returns a copy of every accepted message.
func (g *Gateway) Messages() []notify.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]notify.Message(nil), g.messages...)
}

// CriticalMessages returns the accepted escalation alerts.
func (g *Gateway) CriticalMessages() []notify.Message {
	var critical []notify.Message
	for _, msg := range g.Messages() {
		if msg.Critical {
			critical = append(critical, msg)
		}
	}
	return critical
}

// Send implements notify.Gateway.
func (g *Gateway) Send(ctx context.Context, msg notify.Message) (notify.Report, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return notify.Report{}, g.err
	}
	g.messages = append(g.messages, msg)

	report := notify.Report{Results: make([]notify.Result, 0, len(msg.Recipients))}
	for i, recipient := range msg.Recipients {
		result := notify.Result{Phone: recipient.Phone, Success: !g.failing[recipient.Phone]}
		if result.Success {
			result.ProviderMessageID = "SM" + recipient.Phone + "-" + string(rune('a'+i%26))
		} else {
			result.Error = "undeliverable"
		}
		report.Results = append(report.Results, result)
	}
	return report, nil
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	events []events.Event
}

// NewPublisher returns an empty recording publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish implements events.Publisher.
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

// Count returns how many events of kind were published.
func (p *Publisher) Count(kind events.Kind) int {
	count := 0
	for _, event := range p.Events() {
		if event.Kind == kind {
			count++
		}
	}
	return count
}
