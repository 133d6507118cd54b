package testfixtures

import (
	"log/slog"
	"testing"
	"time"

	"github.com/example/safety-checkin/internal/application"
	"github.com/example/safety-checkin/internal/checkin"
	"github.com/example/safety-checkin/internal/events"
	"github.com/example/safety-checkin/internal/evidence"
	"github.com/example/safety-checkin/internal/location"
	"github.com/example/safety-checkin/internal/notify"
	"github.com/example/safety-checkin/internal/persistence"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// CheckinServiceDeps captures dependencies for constructing a check-in
// service. Nil collaborators are replaced by fakes or left unset.
type CheckinServiceDeps struct {
	Store     persistence.Store
	Provider  location.Provider
	Reporter  application.PositionReporter
	Gateway   notify.Gateway
	Publisher events.Publisher
	Recorder  application.Recorder
	Evidence  application.EvidenceVerifier
	Runner    *checkin.Runner

	LocationTimeout time.Duration
	ArchiveAfter    time.Duration
	IDGenerator     func() string
	Now             func() time.Time
	Logger          *slog.Logger
}

// NewCheckinService builds a check-in service using the supplied dependencies
// combined with the factory defaults.
func (f *ServiceFactory) NewCheckinService(deps CheckinServiceDeps) *application.CheckinService {
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	logger := deps.Logger
	if logger == nil {
		logger = QuietLogger()
	}
	if deps.Provider == nil {
		deps.Provider = NewLocationProvider(Tokyo)
	}
	if deps.Gateway == nil {
		deps.Gateway = NewGateway()
	}

	checkinDeps := application.CheckinDependencies{
		Provider:        deps.Provider,
		Reporter:        deps.Reporter,
		Gateway:         deps.Gateway,
		Publisher:       deps.Publisher,
		Recorder:        deps.Recorder,
		Evidence:        deps.Evidence,
		Runner:          deps.Runner,
		IDGenerator:     idGen,
		Now:             now,
		LocationTimeout: deps.LocationTimeout,
		ArchiveAfter:    deps.ArchiveAfter,
		Logger:          logger,
	}
	if deps.Store != nil {
		checkinDeps.Sessions = deps.Store
		checkinDeps.Locations = deps.Store
		checkinDeps.Contacts = deps.Store
		checkinDeps.Recordings = deps.Store
	}
	return application.NewCheckinService(checkinDeps)
}

// ContactServiceDeps captures dependencies for constructing a contact service.
type ContactServiceDeps struct {
	Contacts    persistence.ContactRepository
	MaxContacts int
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewContactService builds a contact service using the supplied dependencies.
func (f *ServiceFactory) NewContactService(deps ContactServiceDeps) *application.ContactService {
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	logger := deps.Logger
	if logger == nil {
		logger = QuietLogger()
	}
	return application.NewContactServiceWithLogger(deps.Contacts, deps.MaxContacts, idGen, now, logger)
}

// HarnessOptions tunes a CheckinHarness.
type HarnessOptions struct {
	// Store defaults to an in-memory store.
	Store persistence.Store
	// WithRunner launches real periodic tasks driven by the factory clock.
	// Without it tests call Broadcast and Monitor directly.
	WithRunner    bool
	MonitorPeriod time.Duration
	ArchiveAfter  time.Duration
	MaxContacts   int
}

// CheckinHarness wires a check-in service to fakes and an evidence vault in a
// temporary directory.
type CheckinHarness struct {
	Clock     *Clock
	IDs       *IDGenerator
	Store     persistence.Store
	Provider  *LocationProvider
	Gateway   *Gateway
	Publisher *Publisher
	Vault     *evidence.Vault
	Runner    *checkin.Runner
	Checkins  *application.CheckinService
	Contacts  *application.ContactService
}

// NewCheckinHarness constructs a harness; resources are released through
// tb.Cleanup.
func (f *ServiceFactory) NewCheckinHarness(tb testing.TB, opts HarnessOptions) *CheckinHarness {
	tb.Helper()

	store := opts.Store
	if store == nil {
		store = NewMemoryStore(tb)
	}

	vault, err := evidence.New(evidence.Options{
		Dir:         tb.TempDir(),
		Key:         EvidenceKey(),
		Store:       store,
		IDGenerator: f.IDGenerator.NextFunc(),
		Now:         f.Clock.NowFunc(),
		Logger:      QuietLogger(),
	})
	if err != nil {
		tb.Fatalf("failed to create vault: %v", err)
	}
	tb.Cleanup(func() { _ = vault.Close() })

	var runner *checkin.Runner
	if opts.WithRunner {
		runner = checkin.NewRunner(checkin.RunnerOptions{
			Clock:         f.Clock,
			MonitorPeriod: opts.MonitorPeriod,
			Logger:        QuietLogger(),
		})
		tb.Cleanup(runner.Shutdown)
	}

	h := &CheckinHarness{
		Clock:     f.Clock,
		IDs:       f.IDGenerator,
		Store:     store,
		Provider:  NewLocationProvider(Tokyo),
		Gateway:   NewGateway(),
		Publisher: NewPublisher(),
		Vault:     vault,
		Runner:    runner,
	}
	h.Checkins = f.NewCheckinService(CheckinServiceDeps{
		Store:        store,
		Provider:     h.Provider,
		Gateway:      h.Gateway,
		Publisher:    h.Publisher,
		Recorder:     vault,
		Evidence:     vault,
		Runner:       runner,
		ArchiveAfter: opts.ArchiveAfter,
	})
	h.Contacts = f.NewContactService(ContactServiceDeps{
		Contacts:    store,
		MaxContacts: opts.MaxContacts,
	})
	return h
}
