package pharmadesk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/putto11262002/pharmadesk/core"
	"github.com/putto11262002/pharmadesk/pkg/catalog"
	"github.com/putto11262002/pharmadesk/pkg/exchange"
	"github.com/putto11262002/pharmadesk/pkg/fetch"
	"github.com/putto11262002/pharmadesk/pkg/limiter"
	"github.com/putto11262002/pharmadesk/pkg/notify"
	"github.com/putto11262002/pharmadesk/pkg/payment"
	"github.com/putto11262002/pharmadesk/pkg/router"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config  *Config
	db      *core.SQLiteDB
	context context.Context
	server  *http.Server
	logger  *slog.Logger
	router  *router.Router

	redis    *redis.Client
	broker   core.Broker
	hub      *core.Hub
	conns    *core.ConnManager
	support  *core.Support
	notifier *notify.AMQP

	userStore core.UserStore
	chatStore core.ChatStore
	authStore core.AuthStore

	catalog   *catalog.Service
	rates     *exchange.Service
	verifier  *payment.Verifier
	scheduler *Scheduler

	cleanupFuncs []func(context.Context)
}

// NewLogger returns the text logger used across the app. Source files are
// trimmed to their base name.
func NewLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))
}

// OpenDB opens the configured database and brings the schema up to date.
func OpenDB(config *Config) (*core.SQLiteDB, error) {
	db, err := core.NewSQLiteDB(config.SQLite.File, &core.SQLiteDBOption{
		Mode:        "rwc",
		JournalMode: "WAL",
		BusyTimeout: 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// NewRedis connects to url and checks the connection.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewRates builds the exchange rate service from the config.
func NewRates(config *Config, db *core.SQLiteDB, cache exchange.Cache, logger *slog.Logger) *exchange.Service {
	client := fetch.New(fetch.WithLogger(logger))
	return exchange.NewService(
		exchange.WithPriceFeed(exchange.NewCoinGecko(client, "", config.Rates.CoinGeckoKey)),
		exchange.WithIRRProviders(
			exchange.NewExchangerates(client, "", config.Rates.ExchangeratesKeys),
			exchange.NewNavasan(client, "", config.Rates.NavasanKeys),
		),
		exchange.WithRateStore(exchange.NewSQLiteRateStore(db.DB)),
		exchange.WithCache(cache),
		exchange.WithLogger(logger),
	)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// non browser clients send no origin
		return origin == "" || slices.ContainsFunc(allowed, func(o string) bool {
			return strings.EqualFold(o, origin)
		})
	}
}

func New(ctx context.Context, config *Config) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.New(FormatValidationErrors(err))
	}

	app := &App{config: config, context: ctx}
	app.logger = NewLogger(config.Log.Level)
	ok := false
	defer func() {
		if !ok {
			app.cleanup()
		}
	}()

	var err error
	app.db, err = OpenDB(config)
	if err != nil {
		return nil, err
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.db.Close()
	})

	app.userStore = core.NewSQLiteUserStore(app.db.DB)
	app.authStore = core.NewSQLiteAuthStore(app.db.DB, app.userStore, config.Auth.Secret, core.WithTokenExp(config.Auth.TokenExp))
	app.chatStore = core.NewSQLiteChatStore(app.db.DB)

	var (
		cache          exchange.Cache
		messageLimiter core.MessageLimiter
	)
	if config.Redis.URL != "" {
		app.redis, err = NewRedis(ctx, config.Redis.URL)
		if err != nil {
			return nil, err
		}
		app.AddCleanupFunc(func(ctx context.Context) {
			app.redis.Close()
		})
		app.broker = core.NewRedisBroker(app.redis, "")
		cache = exchange.NewRedisCache(app.redis, "")
		if config.Chat.RateLimit > 0 {
			messageLimiter = limiter.NewRedis(app.redis, config.Chat.RateLimit, config.Chat.RateWindow)
		}
		app.logger.Info("using redis for broadcast groups, rate cache and limits")
	} else {
		app.broker = core.NewMemoryBroker()
		cache = exchange.NewMemoryCache(nil)
		if config.Chat.RateLimit > 0 {
			messageLimiter = limiter.NewMemory(config.Chat.RateLimit, config.Chat.RateWindow)
		}
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.broker.Close()
	})

	app.hub = core.NewHub(app.broker, app.logger.With(slog.String("component", "hub")))
	app.conns = core.NewConnManager(ctx,
		core.WithLogger(app.logger.With(slog.String("component", "ws"))),
		core.WithCheckOrigin(originChecker(config.AllowedOrigins)),
		core.WithStreamSize(config.Chat.QueueSize, config.Chat.QueueSize))

	supportOpts := []core.SupportOption{core.WithSupportLogger(app.logger.With(slog.String("component", "support")))}
	if messageLimiter != nil {
		supportOpts = append(supportOpts, core.WithMessageLimiter(messageLimiter))
	}
	if config.AMQP.URL != "" {
		app.notifier, err = notify.Dial(config.AMQP.URL, config.AMQP.Queue)
		if err != nil {
			return nil, err
		}
		app.AddCleanupFunc(func(ctx context.Context) {
			app.notifier.Close()
		})
		supportOpts = append(supportOpts, core.WithFeedNotifier(feedForwarder{publisher: app.notifier}))
	}
	app.support = core.NewSupport(app.chatStore, app.hub, app.conns, supportOpts...)

	app.catalog = catalog.New(config.Catalog.File, app.logger.With(slog.String("component", "catalog")))
	if fileExists(config.Catalog.File) {
		if err := app.catalog.Load(ctx); err != nil {
			app.logger.Error(err.Error())
		}
	} else {
		app.logger.Warn(fmt.Sprintf("catalog file %s not found", config.Catalog.File))
	}

	app.rates = NewRates(config, app.db, cache, app.logger.With(slog.String("component", "rates")))
	app.verifier = payment.NewVerifier(fetch.New(fetch.WithLogger(app.logger)),
		payment.WithKeys(payment.Keys{
			TronGrid:    config.Payments.TronGrid,
			BlockCypher: config.Payments.BlockCypher,
			Etherscan:   config.Payments.EtherscanKey,
			BscScan:     config.Payments.BscScanKeys,
		}),
		payment.WithLogger(app.logger.With(slog.String("component", "payment"))))

	app.scheduler = NewScheduler(ctx, app.logger.With(slog.String("component", "cron")))
	if err := app.scheduleJobs(); err != nil {
		return nil, err
	}

	app.router = app.routes()
	app.server = &http.Server{
		Addr:    config.Addr(),
		Handler: app.router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}
	if config.Mode == ProdMode {
		app.server.TLSConfig = defaultTLSConfig.Clone()
	}

	ok = true
	return app, nil
}

func (app *App) scheduleJobs() error {
	if err := app.scheduler.Add("rates refresh", app.config.Rates.Refresh, func(ctx context.Context) error {
		rate, err := app.rates.RefreshIRR(ctx)
		if err != nil {
			return err
		}
		app.logger.Info(fmt.Sprintf("rial rate %.0f from %s", rate.Value, rate.Provider))
		return nil
	}); err != nil {
		return err
	}

	if err := app.scheduler.Add("catalog reload", app.config.Catalog.Reload, func(ctx context.Context) error {
		_, err := app.catalog.Reload(ctx)
		return err
	}); err != nil {
		return err
	}

	return app.scheduler.Add("idle sweep", app.config.Chat.Sweep, func(ctx context.Context) error {
		n, err := app.support.SweepIdleRooms(ctx, time.Now().Add(-app.config.Chat.IdleAfter))
		if err != nil {
			return err
		}
		if n > 0 {
			app.logger.Info(fmt.Sprintf("%d idle rooms marked inactive", n))
		}
		return nil
	})
}

// Handler is the root http handler.
func (app *App) Handler() http.Handler {
	return app.router
}

// Start serves until the app context is done and then shuts down gracefully.
func (app *App) Start() error {
	if err := app.hub.Start(app.context); err != nil {
		app.cleanup()
		return fmt.Errorf("start hub: %w", err)
	}
	app.scheduler.Start()
	app.AddCleanupFunc(app.scheduler.Stop)
	app.AddCleanupFunc(func(ctx context.Context) {
		if err := app.conns.Close(ctx); err != nil {
			app.logger.Warn(fmt.Sprintf("closing connections: %v", err))
		}
	})
	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})

	serveErr := make(chan error, 1)
	go func() {
		app.logger.Info(fmt.Sprintf("app running in %s mode on: %s", app.config.Mode, app.config.Addr()))
		var err error
		if app.config.TLS.Key != "" && app.config.TLS.Crt != "" {
			err = app.server.ListenAndServeTLS(app.config.TLS.Crt, app.config.TLS.Key)
		} else {
			err = app.server.ListenAndServe()
		}
		serveErr <- err
	}()

	var err error
	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-app.context.Done():
	}

	if cerr := app.cleanup(); cerr != nil {
		return cerr
	}
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	app.logger.Info("app shutdown gracefully")
	return nil
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

// cleanup runs the cleanup funcs in reverse order of registration.
func (app *App) cleanup() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
			app.cleanupFuncs[i](ctx)
		}
		app.cleanupFuncs = nil
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("app shutdown timed out")
	}
}
