package di

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/inkwell-books/api/internal/payments"
	"github.com/inkwell-books/api/internal/platform/auth"
	"github.com/inkwell-books/api/internal/platform/config"
	"github.com/inkwell-books/api/internal/platform/jobs"
	"github.com/inkwell-books/api/internal/repositories"
	"github.com/inkwell-books/api/internal/services"
)

const envPubSubEmulatorHost = "PUBSUB_EMULATOR_HOST"

// Services bundles the service-layer contracts that handlers rely upon. Concrete
// implementations are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog  services.CatalogService
	Cart     services.CartService
	Checkout services.CheckoutService
	Orders   services.OrderService
	System   services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config          config.Config
	Repositories    repositories.Registry
	Services        Services
	Authenticator   *auth.Authenticator
	WebhookVerifier payments.WebhookVerifier
	Scheduler       *jobs.Scheduler

	logger       *zap.Logger
	pubsubClient *pubsub.Client
	orderTopic   *pubsub.Topic
}

type containerOptions struct {
	logger    *zap.Logger
	publisher services.OrderEventPublisher
	scheduler *jobs.Scheduler
	build     services.BuildInfo
	buildSet  bool
}

// Option customises container construction.
type Option func(*containerOptions)

// WithLogger attaches the process logger; service event logs hang off named children.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOrderEventPublisher overrides the Pub/Sub order event publisher, mainly for tests.
func WithOrderEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *containerOptions) {
		o.publisher = publisher
	}
}

// WithFulfillmentScheduler overrides the in-process fulfillment scheduler.
func WithFulfillmentScheduler(scheduler *jobs.Scheduler) Option {
	return func(o *containerOptions) {
		o.scheduler = scheduler
	}
}

// WithBuildInfo records release metadata surfaced on the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
		o.buildSet = true
	}
}

// NewContainer constructs the runtime dependency graph: payment provider,
// webhook verifier, token authenticator, fulfillment scheduler, order event
// publisher, and the services backed by the repository registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	options := containerOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	logger := options.logger

	eventLogger := func(name string) func(ctx context.Context, event string, fields map[string]any) {
		named := logger.Named(name)
		return func(_ context.Context, event string, fields map[string]any) {
			zFields := make([]zap.Field, 0, len(fields)+1)
			zFields = append(zFields, zap.String("event", event))
			for k, v := range fields {
				zFields = append(zFields, zap.Any(k, v))
			}
			named.Debug("service event", zFields...)
		}
	}

	tokenVerifier, err := auth.NewHS256Verifier(cfg.Auth.SigningSecret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return nil, fmt.Errorf("build token verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(tokenVerifier)

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: eventLogger("payments"),
		Clock:  time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build stripe payment provider: %w", err)
	}
	paymentManager, err := payments.NewManager(
		map[string]payments.Provider{"stripe": stripeProvider},
		payments.WithDefaultProvider("stripe"),
	)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}

	webhookVerifier, err := payments.NewStripeWebhookVerifier(cfg.PSP.StripeWebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("build webhook verifier: %w", err)
	}

	scheduler := options.scheduler
	if scheduler == nil {
		scheduler = jobs.NewScheduler(jobs.WithSchedulerLogger(eventLogger("jobs")))
	}

	container := &Container{
		Config:          cfg,
		Repositories:    reg,
		Authenticator:   authenticator,
		WebhookVerifier: webhookVerifier,
		Scheduler:       scheduler,
		logger:          logger,
	}

	publisher := options.publisher
	if publisher == nil && cfg.PubSub.ProjectID != "" {
		if cfg.PubSub.EmulatorHost != "" && os.Getenv(envPubSubEmulatorHost) == "" {
			_ = os.Setenv(envPubSubEmulatorHost, cfg.PubSub.EmulatorHost)
		}
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		topic := client.Topic(cfg.PubSub.OrderEventsTopic)
		publisher, err = jobs.NewPubSubOrderPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("build order event publisher: %w", err)
		}
		container.pubsubClient = client
		container.orderTopic = topic
	}

	build := options.build
	if !options.buildSet {
		build = services.BuildInfo{
			Environment: cfg.Environment,
			StartedAt:   time.Now().UTC(),
		}
	}

	svc, err := buildServices(reg, cfg, paymentManager, scheduler, publisher, build, eventLogger)
	if err != nil {
		container.releaseOnBuildFailure()
		return nil, err
	}
	container.Services = svc

	return container, nil
}

func buildServices(
	reg repositories.Registry,
	cfg config.Config,
	paymentManager *payments.Manager,
	scheduler services.FulfillmentScheduler,
	publisher services.OrderEventPublisher,
	build services.BuildInfo,
	eventLogger func(string) func(context.Context, string, map[string]any),
) (Services, error) {
	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Books:  reg.Books(),
		Clock:  time.Now,
		Logger: eventLogger("catalog"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:  reg.Carts(),
		Books:  reg.Books(),
		Clock:  time.Now,
		Logger: eventLogger("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:    reg.Carts(),
		Books:    reg.Books(),
		Payments: paymentManager,
		Clock:    time.Now,
		Logger:   eventLogger("checkout"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:           reg.Orders(),
		Counters:         reg.Counters(),
		Payments:         paymentManager,
		Scheduler:        scheduler,
		Events:           publisher,
		FulfillmentDelay: cfg.Fulfillment.Delay,
		Clock:            time.Now,
		Logger:           eventLogger("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            time.Now,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}

	return Services{
		Catalog:  catalogSvc,
		Cart:     cartSvc,
		Checkout: checkoutSvc,
		Orders:   orderSvc,
		System:   systemSvc,
	}, nil
}

func (c *Container) releaseOnBuildFailure() {
	if c.Scheduler != nil {
		c.Scheduler.Close()
	}
	if c.orderTopic != nil {
		c.orderTopic.Stop()
	}
	if c.pubsubClient != nil {
		_ = c.pubsubClient.Close()
	}
}

// Close releases background infrastructure and repository clients. Pending
// fulfillment jobs are dropped; payment webhooks re-drive them on restart.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}

	var errs []error
	if c.Scheduler != nil {
		c.Scheduler.Close()
	}
	if c.orderTopic != nil {
		c.orderTopic.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}
