package runtime

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	app "github.com/R3E-Network/raffle_layer/internal/app"
	"github.com/R3E-Network/raffle_layer/internal/app/events"
	"github.com/R3E-Network/raffle_layer/internal/app/httpapi"
	"github.com/R3E-Network/raffle_layer/internal/app/services/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/raffle_layer/internal/clock"
	"github.com/R3E-Network/raffle_layer/internal/config"
	"github.com/R3E-Network/raffle_layer/internal/middleware"
	"github.com/R3E-Network/raffle_layer/internal/platform/migrations"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jmoiron/sqlx"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	limiter *middleware.RateLimiter
	server  *http.Server
	db      *sqlx.DB
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg config.LoggingConfig) *logger.Logger {
	return logger.New(logger.LoggingConfig{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		FilePrefix: cfg.FilePrefix,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	})
}

// NewApplication constructs the service from configuration. Without a
// database DSN all state is kept in memory.
func NewApplication(cfg *config.Config) (*Application, error) {
	log := NewLogger(cfg.Logging)

	fee, err := cfg.EntranceFee()
	if err != nil {
		return nil, err
	}
	secret, err := parseOracleSecret(cfg.Oracle.Secret)
	if err != nil {
		return nil, fmt.Errorf("oracle secret: %w", err)
	}

	var stores app.Stores
	var db *sqlx.DB
	if cfg.Database.DSN != "" {
		db, err = OpenDatabase(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if cfg.Database.Migrate {
			if err := migrations.Apply(context.Background(), db); err != nil {
				db.Close()
				return nil, err
			}
		}
		store := postgres.NewX(db)
		stores = app.Stores{Snapshots: store, Rounds: store, Ledger: store}
	} else {
		log.Warn("database dsn not set; raffle state is kept in memory")
	}

	opts := app.Options{
		Raffle: raffle.Config{
			EntranceFee: fee,
			Interval:    cfg.Raffle.Interval,
			Oracle: raffle.OracleConfig{
				KeyHash:          cfg.Oracle.KeyHash,
				SubscriptionID:   cfg.Oracle.SubscriptionID,
				Confirmations:    cfg.Oracle.Confirmations,
				CallbackGasLimit: cfg.Oracle.CallbackGasLimit,
				NumWords:         cfg.Oracle.NumWords,
			},
		},
		Clock: clock.NewSystem(time.Time{}, cfg.Raffle.BlockTime),
		Oracle: app.OracleOptions{
			Mode:         cfg.Oracle.Mode,
			Endpoint:     cfg.Oracle.Endpoint,
			APIKey:       cfg.Oracle.APIKey,
			Secret:       secret,
			Manual:       cfg.Oracle.Manual,
			BlockTime:    cfg.Raffle.BlockTime,
			PollInterval: cfg.Oracle.PollInterval,
		},
		KeeperEnabled:  cfg.Keeper.Enabled,
		KeeperSchedule: cfg.Keeper.Schedule,
		EventBuffer:    cfg.Events.Buffer,
		RedisChannel:   cfg.Events.RedisChannel,
	}

	var closeRedis func() error
	if addr := strings.TrimSpace(cfg.Events.RedisAddr); addr != "" {
		client, err := events.NewRedisClient(addr)
		if err != nil {
			closeDB(db, log)
			return nil, err
		}
		opts.Redis = client
		closeRedis = client.Close
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		if closeRedis != nil {
			_ = closeRedis()
		}
		closeDB(db, log)
		return nil, err
	}
	if closeRedis != nil {
		application.OnClose(closerFunc(closeRedis))
	}

	auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret, log.Named("auth"))
	if !auth.Enabled() {
		log.Warn("auth jwt secret not set; operator and oracle endpoints are disabled")
	}
	limiter := middleware.NewRateLimiter(cfg.Auth.EntryRateLimit, cfg.Auth.EntryBurst, log.Named("ratelimit"))

	handler := httpapi.NewHandler(application, httpapi.Options{
		Auth:         auth,
		EntryLimiter: limiter,
		Log:          log.Named("http"),
	})
	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Application{
		cfg:     cfg,
		log:     log,
		app:     application,
		limiter: limiter,
		server:  server,
		db:      db,
	}, nil
}

// Run starts the raffle services and the HTTP server and blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	a.limiter.StartCleanup(ctx, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, then the raffle services, then closes the database.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	closeDB(a.db, a.log)
	return errors.Join(errs...)
}

// OpenDatabase opens and pings a pooled sqlx handle.
func OpenDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func closeDB(db *sqlx.DB, log *logger.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("error closing database connection")
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// parseOracleSecret accepts 0x-hex, plain hex, base64 or a raw string of at
// least 16 bytes. An empty value yields nil so the oracle generates its own.
func parseOracleSecret(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		decoded, err := hexutil.Decode("0x" + value[2:])
		if err != nil {
			return nil, err
		}
		return checkSecretLength(decoded)
	}
	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) >= 16 {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && len(decoded) >= 16 {
		return decoded, nil
	}
	return checkSecretLength([]byte(value))
}

func checkSecretLength(b []byte) ([]byte, error) {
	if len(b) < 16 {
		return nil, errors.New("must be at least 16 bytes")
	}
	return b, nil
}
