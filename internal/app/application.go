package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/app/events"
	"github.com/R3E-Network/raffle_layer/internal/app/services/automation"
	"github.com/R3E-Network/raffle_layer/internal/app/services/ledger"
	oraclesvc "github.com/R3E-Network/raffle_layer/internal/app/services/oracle"
	"github.com/R3E-Network/raffle_layer/internal/app/services/raffle"
	randomsvc "github.com/R3E-Network/raffle_layer/internal/app/services/random"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/R3E-Network/raffle_layer/internal/app/storage/memory"
	"github.com/R3E-Network/raffle_layer/internal/app/system"
	"github.com/R3E-Network/raffle_layer/internal/clock"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// Oracle modes.
const (
	OracleLocal = "local"
	OracleHTTP  = "http"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Snapshots storage.SnapshotStore
	Rounds    storage.RoundStore
	Ledger    storage.LedgerStore
}

// OracleOptions selects the randomness source.
type OracleOptions struct {
	Mode         string
	Endpoint     string
	APIKey       string
	Secret       []byte
	Manual       bool
	BlockTime    time.Duration
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Options configures the application.
type Options struct {
	Raffle         raffle.Config
	Clock          clock.Clock
	Oracle         OracleOptions
	KeeperEnabled  bool
	KeeperSchedule string
	EventBuffer    int
	// Redis, when set, receives every event on RedisChannel.
	Redis        events.RedisPublisher
	RedisChannel string
}

// Application ties the raffle services together and manages their lifecycle.
type Application struct {
	manager  *system.Manager
	log      *logger.Logger
	closers  []io.Closer
	numWords uint32

	Coordinator *raffle.Coordinator
	Escrow      *ledger.Escrow
	Book        *ledger.Book
	Events      *events.Bus
	Hub         *events.Hub
	Keeper      *automation.Keeper

	// Exactly one of LocalOracle and Dispatcher is set.
	LocalOracle *randomsvc.Oracle
	Dispatcher  *oraclesvc.Dispatcher
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Snapshots == nil {
		stores.Snapshots = mem
	}
	if stores.Rounds == nil {
		stores.Rounds = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewSystem(time.Time{}, opts.Oracle.BlockTime)
	}

	bus := events.NewBus(opts.EventBuffer, log.Named("events"))
	bus.AddSink(events.NewLogSink(log.Named("events")))
	hub := events.NewHub(log.Named("websocket"))
	bus.AddSink(hub)
	if opts.Redis != nil {
		bus.AddSink(events.NewRedisSink(opts.Redis, opts.RedisChannel))
	}

	book := ledger.NewBook()
	escrow := ledger.NewEscrow(book, stores.Ledger, log.Named("ledger"))

	application := &Application{
		manager:  system.NewManager(),
		log:      log,
		numWords: opts.Raffle.Oracle.NumWords,
		Escrow:   escrow,
		Book:     book,
		Events:   bus,
		Hub:      hub,
	}

	var oracle raffle.RandomnessOracle
	switch mode := strings.ToLower(strings.TrimSpace(opts.Oracle.Mode)); mode {
	case "", OracleLocal:
		local, err := randomsvc.New(opts.Oracle.Secret, log.Named("random"))
		if err != nil {
			return nil, fmt.Errorf("configure local oracle: %w", err)
		}
		local.WithManual(opts.Oracle.Manual)
		local.WithBlockTime(opts.Oracle.BlockTime)
		application.LocalOracle = local
		oracle = local
	case OracleHTTP:
		client := opts.Oracle.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: 10 * time.Second}
		}
		resolver, err := oraclesvc.NewHTTPClient(client, opts.Oracle.Endpoint, opts.Oracle.APIKey, log.Named("oracle-http"))
		if err != nil {
			return nil, fmt.Errorf("configure oracle client: %w", err)
		}
		dispatcher := oraclesvc.NewDispatcher(resolver, log.Named("oracle-dispatcher"))
		dispatcher.WithInterval(opts.Oracle.PollInterval)
		application.Dispatcher = dispatcher
		oracle = dispatcher
	default:
		return nil, fmt.Errorf("unknown oracle mode %q", opts.Oracle.Mode)
	}

	coord, err := raffle.New(opts.Raffle, clk, oracle, escrow, log.Named("raffle"))
	if err != nil {
		return nil, err
	}
	coord.WithStore(stores.Snapshots)
	coord.WithRounds(stores.Rounds)
	coord.WithEvents(bus)
	application.Coordinator = coord

	services := []system.Service{bus}
	if application.LocalOracle != nil {
		application.LocalOracle.WithHandler(coord)
		services = append(services, application.LocalOracle)
	}
	if application.Dispatcher != nil {
		application.Dispatcher.WithHandler(coord)
		services = append(services, application.Dispatcher)
	}
	if opts.KeeperEnabled {
		keeper, err := automation.NewKeeper(coord, opts.KeeperSchedule, log.Named("keeper"))
		if err != nil {
			return nil, fmt.Errorf("configure keeper: %w", err)
		}
		application.Keeper = keeper
		services = append(services, keeper)
	}

	for _, svc := range services {
		if err := application.manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}
	return application, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// OnClose closes c when the application stops.
func (a *Application) OnClose(c io.Closer) {
	a.closers = append(a.closers, c)
}

// Start rebuilds winnings from the ledger, restores persisted raffle state,
// re-arms any outstanding randomness request and starts every registered service.
func (a *Application) Start(ctx context.Context) error {
	paid, err := a.Escrow.Entries(ctx, "")
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	a.Book.Rebuild(paid)

	restored, err := a.Coordinator.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore raffle: %w", err)
	}
	if restored {
		a.resumePending()
	}
	return a.manager.Start(ctx)
}

func (a *Application) resumePending() {
	handle := a.Coordinator.PendingRequest()
	if handle == "" || a.Coordinator.PendingPayout() != nil {
		return
	}
	switch {
	case a.Dispatcher != nil:
		a.Dispatcher.Track(handle)
	case a.LocalOracle != nil:
		if err := a.LocalOracle.Resume(handle, a.numWords); err != nil {
			a.log.WithError(err).WithField("request_id", handle).Warn("resume randomness request")
		}
	}
}

// Stop stops all services and disconnects event clients.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	a.Hub.Close()
	for _, c := range a.closers {
		if cerr := c.Close(); cerr != nil {
			a.log.WithError(cerr).Warn("close resource")
		}
	}
	return err
}

// Services lists the lifecycle-managed components in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}
