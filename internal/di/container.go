package di

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/restaurant-ordering/api/internal/platform/config"
	pfirestore "github.com/restaurant-ordering/api/internal/platform/firestore"
	"github.com/restaurant-ordering/api/internal/platform/idempotency"
	"github.com/restaurant-ordering/api/internal/platform/jobs"
	"github.com/restaurant-ordering/api/internal/platform/observability"
	ppostgres "github.com/restaurant-ordering/api/internal/platform/postgres"
	"github.com/restaurant-ordering/api/internal/repositories"
	firestoreRepo "github.com/restaurant-ordering/api/internal/repositories/firestore"
	postgresRepo "github.com/restaurant-ordering/api/internal/repositories/postgres"
	"github.com/restaurant-ordering/api/internal/services"
)

const (
	storeCheckTimeout  = 1500 * time.Millisecond
	redisCheckTimeout  = time.Second
	pubsubCheckTimeout = 2 * time.Second
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders     services.OrderService
	Catalog    services.CatalogService
	Toppings   services.ToppingService
	Users      services.UserService
	Reports    services.ReportService
	Activation services.PaymentActivationService
	System     services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Idempotency  idempotency.Store

	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	logger      *zap.Logger
	build       services.BuildInfo
	clock       func() time.Time
	registry    repositories.Registry
	idempotency idempotency.Store
	events      services.OrderEventPublisher
	checks      []repositories.DependencyCheck
}

// WithLogger sets the base logger handed to services and infrastructure.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBuildInfo sets the build metadata reported by the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithClock overrides the clock used by services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRegistry supplies a prebuilt repository registry instead of opening the configured store.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) {
		o.registry = reg
	}
}

// WithIdempotencyStore supplies the idempotency store instead of opening the configured backend.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(o *containerOptions) {
		o.idempotency = store
	}
}

// WithOrderEventPublisher supplies the order event publisher instead of connecting to Pub/Sub.
func WithOrderEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *containerOptions) {
		o.events = publisher
	}
}

// WithDependencyChecks adds readiness probes for dependencies opened outside the container.
func WithDependencyChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *containerOptions) {
		o.checks = append(o.checks, checks...)
	}
}

// NewContainer opens the configured backends and constructs the runtime dependencies. Backends
// supplied through options are used as-is and are not closed by the container.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	options := containerOptions{
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{Config: cfg}
	b := &backends{
		cfg:    cfg,
		logger: options.logger,
		checks: append([]repositories.DependencyCheck(nil), options.checks...),
	}

	if err := c.open(ctx, b, options); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}

	if options.events == nil {
		options.events = b.events
	}
	svc, err := buildServices(c.Repositories, cfg, options)
	if err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	c.Services = svc
	return c, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

// backends tracks the clients opened for the configured drivers and the readiness probes they
// contribute.
type backends struct {
	cfg       config.Config
	logger    *zap.Logger
	firestore *pfirestore.Provider
	db        *sql.DB
	events    services.OrderEventPublisher
	checks    []repositories.DependencyCheck
}

func (b *backends) firestoreProvider() *pfirestore.Provider {
	if b.firestore == nil {
		b.firestore = pfirestore.NewProvider(b.cfg.Firestore)
	}
	return b.firestore
}

func (c *Container) open(ctx context.Context, b *backends, options containerOptions) error {
	cfg := c.Config

	if options.registry == nil {
		switch cfg.Store.Driver {
		case config.StoreDriverPostgres:
			db, err := ppostgres.Open(ctx, cfg.Postgres)
			if err != nil {
				return fmt.Errorf("open postgres: %w", err)
			}
			b.db = db
			c.onClose(func(context.Context) error { return db.Close() })
			if cfg.Postgres.Migrate {
				if err := postgresRepo.Migrate(db); err != nil {
					return fmt.Errorf("migrate postgres: %w", err)
				}
				b.logger.Info("postgres migrations applied")
			}
			b.checks = append(b.checks, repositories.DependencyCheck{
				Name:     "postgres",
				Critical: true,
				Timeout:  storeCheckTimeout,
				Check:    db.PingContext,
			})
		default:
			provider := b.firestoreProvider()
			b.checks = append(b.checks, repositories.DependencyCheck{
				Name:     "firestore",
				Critical: true,
				Timeout:  storeCheckTimeout,
				Check:    provider.Ping,
			})
		}
	}

	if err := c.openIdempotency(ctx, b, options); err != nil {
		return err
	}
	if err := c.openPubSub(ctx, b, options); err != nil {
		return err
	}

	if b.firestore != nil {
		provider := b.firestore
		c.onClose(provider.Close)
	}

	if options.registry != nil {
		c.Repositories = options.registry
		return nil
	}

	var health repositories.HealthRepository
	if len(b.checks) > 0 {
		repo, err := repositories.NewDependencyHealthRepository(b.checks)
		if err != nil {
			return fmt.Errorf("build health repository: %w", err)
		}
		health = repo
	}

	switch {
	case b.db != nil:
		reg, err := postgresRepo.NewRegistry(b.db, health)
		if err != nil {
			return fmt.Errorf("build postgres registry: %w", err)
		}
		c.Repositories = reg
	default:
		reg, err := firestoreRepo.NewRegistry(b.firestoreProvider(), health)
		if err != nil {
			return fmt.Errorf("build firestore registry: %w", err)
		}
		c.Repositories = reg
	}
	return nil
}

func (c *Container) openIdempotency(ctx context.Context, b *backends, options containerOptions) error {
	if options.idempotency != nil {
		c.Idempotency = options.idempotency
		return nil
	}
	cfg := c.Config
	switch cfg.Idempotency.Backend {
	case config.IdempotencyBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.onClose(func(context.Context) error { return client.Close() })
		b.checks = append(b.checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: redisCheckTimeout,
			Check: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		})
		c.Idempotency = idempotency.NewRedisStore(client)
	case config.IdempotencyBackendFirestore:
		client, err := b.firestoreProvider().Client(ctx)
		if err != nil {
			return fmt.Errorf("open firestore for idempotency: %w", err)
		}
		c.Idempotency = idempotency.NewFirestoreStore(client)
	default:
		c.Idempotency = idempotency.NewMemoryStore()
	}
	return nil
}

func (c *Container) openPubSub(ctx context.Context, b *backends, options containerOptions) error {
	if options.events != nil {
		return nil
	}
	cfg := c.Config.PubSub
	topicName := strings.TrimSpace(cfg.OrderEventsTopic)
	if topicName == "" || strings.TrimSpace(cfg.ProjectID) == "" {
		b.logger.Info("order events disabled: pubsub topic or project not configured")
		return nil
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("open pubsub: %w", err)
	}
	topic := client.Topic(topicName)
	c.onClose(func(context.Context) error {
		topic.Stop()
		return client.Close()
	})
	b.checks = append(b.checks, repositories.DependencyCheck{
		Name:    "pubsub",
		Timeout: pubsubCheckTimeout,
		Check: func(ctx context.Context) error {
			exists, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("topic %s does not exist", topicName)
			}
			return nil
		},
	})

	publisher, err := jobs.NewPubSubOrderEventPublisher(topic, jobs.WithLogger(b.logger.Named("events")))
	if err != nil {
		return fmt.Errorf("build order event publisher: %w", err)
	}
	b.events = publisher
	return nil
}

func buildServices(reg repositories.Registry, cfg config.Config, options containerOptions) (Services, error) {
	var svc Services
	if reg == nil {
		return svc, errors.New("repositories registry is required")
	}
	logger := options.logger

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: reg.Products(),
		Clock:    options.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	toppingSvc, err := services.NewToppingService(services.ToppingServiceDeps{
		Toppings:        reg.Toppings(),
		ProductToppings: reg.ProductToppings(),
		Products:        reg.Products(),
		UnitOfWork:      reg,
		Clock:           options.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build topping service: %w", err)
	}
	svc.Toppings = toppingSvc

	userSvc, err := services.NewUserService(services.UserServiceDeps{
		Users:  reg.Users(),
		Clock:  options.clock,
		Logger: observability.ServiceLogger(logger.Named("users")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = userSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		OrderProducts: reg.OrderProducts(),
		Products:      reg.Products(),
		Users:         reg.Users(),
		Catalog:       catalogSvc,
		UnitOfWork:    reg,
		Clock:         options.clock,
		Events:        options.events,
		Logger:        observability.ServiceLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	reportSvc, err := services.NewReportService(services.ReportServiceDeps{
		Orders:   orderSvc,
		Location: cfg.Reports.Location,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build report service: %w", err)
	}
	svc.Reports = reportSvc

	activationSvc, err := services.NewPaymentActivationService(services.PaymentActivationServiceDeps{
		Orders: orderSvc,
		Logger: observability.ServiceLogger(logger.Named("payments")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment activation service: %w", err)
	}
	svc.Activation = activationSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		build := options.build
		if build.OrderStore == "" {
			build.OrderStore = cfg.Store.Driver
		}
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            options.clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
