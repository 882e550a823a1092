package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/vadim/neo-chat/internal/config"
	httpcontroller "github.com/vadim/neo-chat/internal/controller/http"
	"github.com/vadim/neo-chat/internal/database"
	"github.com/vadim/neo-chat/internal/domain/chat/dao"
	"github.com/vadim/neo-chat/internal/domain/chat/policy"
	"github.com/vadim/neo-chat/internal/domain/chat/scheduler"
	"github.com/vadim/neo-chat/internal/domain/chat/service"
	"github.com/vadim/neo-chat/internal/httpx/response"
	"github.com/vadim/neo-chat/internal/hub"
	"github.com/vadim/neo-chat/internal/queue"
	"github.com/vadim/neo-chat/internal/realtime"
	"github.com/vadim/neo-chat/internal/storage"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	// Infrastructure
	pg        *pgxpool.Pool
	mongoDB   *mongo.Database
	redis     *redis.Client
	store     chatStore
	files     *storage.S3Storage
	transport realtime.Transport
	repairs   *queue.Client

	// Domain
	chatService *service.Service
	chatPolicy  *policy.Policy
	hub         *hub.Hub

	// Background workers
	reconciler  *scheduler.Scheduler
	queueServer *queue.Server
	cancelBg    context.CancelFunc
}

// chatStore groups the repositories of the selected storage driver
type chatStore struct {
	users         service.UserRepository
	conversations service.ConversationRepository
	messages      service.MessageRepository
	summaries     service.SummaryRepository
	ping          func(ctx context.Context) error
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Server.LogLevel),
	}))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", httpcontroller.UserHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
	}

	if err := app.initInfrastructure(ctx); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	if err := app.initDomains(ctx); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("initializing domains: %w", err)
	}

	if err := app.registerRoutes(); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("registering routes: %w", err)
	}

	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return app, nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// initInfrastructure connects storage, object storage, Redis and the queue
func (a *App) initInfrastructure(ctx context.Context) error {
	if err := a.initStore(ctx); err != nil {
		return err
	}

	files, err := storage.NewS3Storage(storage.S3Config{
		Endpoint:        a.cfg.S3.Endpoint,
		AccessKeyID:     a.cfg.S3.AccessKeyID,
		SecretAccessKey: a.cfg.S3.SecretAccessKey,
		Bucket:          a.cfg.S3.Bucket,
		Region:          a.cfg.S3.Region,
		PublicURL:       a.cfg.S3.PublicURL,
		KeyPrefix:       a.cfg.S3.KeyPrefix,
	})
	if err != nil {
		return fmt.Errorf("creating s3 storage: %w", err)
	}
	a.files = files

	if a.cfg.Redis.URL == "" {
		a.logger.Info("redis not configured, change signals stay in process")
		a.transport = realtime.NewLocal()
		return nil
	}

	opts, err := redis.ParseURL(a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	a.redis = redis.NewClient(opts)
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	a.transport = realtime.NewRedis(a.redis, a.cfg.Redis.ChannelPrefix, a.logger)

	queueOpt, err := asynq.ParseRedisURI(a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parsing redis url for queue: %w", err)
	}
	a.repairs = queue.NewClient(queueOpt, a.queueConfig())

	return nil
}

func (a *App) initStore(ctx context.Context) error {
	switch strings.ToLower(a.cfg.Storage.Driver) {
	case config.DriverPostgres:
		if a.cfg.Database.AutoMigrate {
			if err := database.RunMigrations(a.cfg.Database.PostgresDSN); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
		}
		pool, err := database.NewPostgresPool(ctx, a.cfg.Database.PostgresDSN, database.PoolConfig{
			MaxConns:     a.cfg.Database.MaxConns,
			MinConns:     a.cfg.Database.MinConns,
			ConnLifetime: a.cfg.Database.ConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		a.pg = pool
		a.store = chatStore{
			users:         dao.NewUserPostgres(pool),
			conversations: dao.NewConversationPostgres(pool),
			messages:      dao.NewMessagePostgres(pool),
			summaries:     dao.NewSummaryPostgres(pool),
			ping:          pool.Ping,
		}

	case config.DriverMongo:
		db, err := database.NewMongoDatabase(ctx, a.cfg.Mongo.URI, a.cfg.Mongo.Database)
		if err != nil {
			return err
		}
		a.mongoDB = db
		store := dao.NewMongo(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			return err
		}
		a.store = chatStore{
			users:         store.Users(),
			conversations: store.Conversations(),
			messages:      store.Messages(),
			summaries:     store.Summaries(),
			ping:          store.Ping,
		}

	case config.DriverMemory:
		a.logger.Warn("using in-memory storage, data is lost on restart")
		store := dao.NewMemory()
		a.store = chatStore{
			users:         store.Users(),
			conversations: store.Conversations(),
			messages:      store.Messages(),
			summaries:     store.Summaries(),
			ping:          store.Ping,
		}

	default:
		return fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}

	a.logger.Info("storage initialized", "driver", a.cfg.Storage.Driver)
	return nil
}

func (a *App) queueConfig() queue.Config {
	return queue.Config{
		Queue:       a.cfg.Queue.Name,
		Queues:      a.cfg.Queue.Queues,
		Concurrency: a.cfg.Queue.Concurrency,
		MaxRetry:    a.cfg.Queue.MaxRetry,
		UniqueTTL:   a.cfg.Queue.UniqueTTL,
	}
}

// initDomains initializes domain layers (DAO, Service, Policy) and the hub
func (a *App) initDomains(ctx context.Context) error {
	opts := []service.Option{
		service.WithNotifier(realtime.NewNotifier(a.transport, a.logger)),
		service.WithLogger(a.logger),
	}
	if a.repairs != nil {
		opts = append(opts, service.WithRepairScheduler(a.repairs))
	}

	a.chatService = service.New(
		a.store.users,
		a.store.conversations,
		a.store.messages,
		a.store.summaries,
		a.files,
		service.Config{OperationTimeout: a.cfg.Chat.OperationTimeout},
		opts...,
	)
	a.chatPolicy = policy.New(a.chatService)
	a.hub = hub.New(a.transport, a.chatService, hub.Config{SnapshotTimeout: a.cfg.Chat.SnapshotTimeout}, a.logger)

	if a.cfg.Reconciler.Enabled {
		a.reconciler = scheduler.New(a.chatService, scheduler.Config{
			Interval:   a.cfg.Reconciler.Interval,
			StartDelay: 15 * time.Second,
			BatchSize:  a.cfg.Reconciler.BatchSize,
		}, a.logger)
	}

	if a.redis != nil {
		queueOpt, err := asynq.ParseRedisURI(a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parsing redis url for queue: %w", err)
		}
		a.queueServer = queue.NewServer(queueOpt, a.queueConfig(), a.chatService, a.logger)
	}

	return nil
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() error {
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)

	swaggerHandler, err := httpcontroller.NewSwaggerHandler("Neo-Chat API", OpenAPISpec)
	if err != nil {
		return err
	}
	swaggerHandler.RegisterRoutes(a.router)

	a.router.Route("/api/v1", func(r chi.Router) {
		r.Use(httpcontroller.SessionMiddleware(a.chatService))

		// Websocket sessions outlive any request timeout.
		httpcontroller.NewSocketHandler(a.hub, a.chatPolicy, httpcontroller.SocketConfig{
			SendBuffer:     a.cfg.Chat.SocketSendBuffer,
			ReadTimeout:    a.cfg.Chat.SocketReadTimeout,
			AllowedOrigins: a.cfg.Server.AllowedOrigins,
		}, a.logger).RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			httpcontroller.NewChatHandler(a.chatPolicy, a.cfg.Chat.MaxAttachmentBytes).RegisterRoutes(r)
		})
	})

	return nil
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}

// readyHandler reports ready once the store answers
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.ping(ctx); err != nil {
		a.logger.Warn("readiness check failed", "error", err)
		response.ServiceUnavailable(w, "storage unavailable")
		return
	}
	response.OK(w, map[string]string{"status": "ready"})
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(ctx)
	a.cancelBg = cancel

	if a.reconciler != nil {
		a.reconciler.Start(bgCtx)
	}

	errCh := make(chan error, 3)

	if rt, ok := a.transport.(*realtime.Redis); ok {
		go func() {
			if err := rt.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("change signal subscriber: %w", err)
			}
		}()
	}

	if a.queueServer != nil {
		go func() {
			if err := a.queueServer.Run(bgCtx); err != nil {
				errCh <- fmt.Errorf("repair queue: %w", err)
			}
		}()
	}

	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case err := <-errCh:
		runErr = fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	if a.reconciler != nil {
		a.reconciler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	// Hijacked websocket connections are not tracked by the server.
	a.hub.Close()

	if a.cancelBg != nil {
		a.cancelBg()
	}

	a.closeInfrastructure()

	a.logger.Info("shutdown complete")
	return nil
}

// closeInfrastructure releases every connection opened so far
func (a *App) closeInfrastructure() {
	if a.repairs != nil {
		if err := a.repairs.Close(); err != nil {
			a.logger.Warn("closing queue client", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis", "error", err)
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.mongoDB != nil {
		if err := a.mongoDB.Client().Disconnect(context.Background()); err != nil {
			a.logger.Warn("disconnecting mongo", "error", err)
		}
	}
}
