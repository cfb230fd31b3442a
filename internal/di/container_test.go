package di

import (
	"context"
	"testing"
	"time"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/platform/config"
	"github.com/restaurant-ordering/api/internal/platform/idempotency"
	"github.com/restaurant-ordering/api/internal/repositories"
	"github.com/restaurant-ordering/api/internal/services"
)

type fakeOrderRepo struct{ repositories.OrderRepository }
type fakeOrderProductRepo struct {
	repositories.OrderProductRepository
}
type fakeProductRepo struct{ repositories.ProductRepository }
type fakeUserRepo struct{ repositories.UserRepository }
type fakeToppingRepo struct{ repositories.ToppingRepository }
type fakeProductToppingRepo struct {
	repositories.ProductToppingRepository
}

type fakeHealthRepo struct {
	report domain.SystemHealthReport
}

func (f fakeHealthRepo) Collect(context.Context) (domain.SystemHealthReport, error) {
	return f.report, nil
}

type fakeRegistry struct {
	health repositories.HealthRepository
	closed bool
}

func (r *fakeRegistry) Close(context.Context) error {
	r.closed = true
	return nil
}

func (r *fakeRegistry) Orders() repositories.OrderRepository { return fakeOrderRepo{} }
func (r *fakeRegistry) OrderProducts() repositories.OrderProductRepository {
	return fakeOrderProductRepo{}
}
func (r *fakeRegistry) Products() repositories.ProductRepository { return fakeProductRepo{} }
func (r *fakeRegistry) Users() repositories.UserRepository       { return fakeUserRepo{} }
func (r *fakeRegistry) Health() repositories.HealthRepository    { return r.health }
func (r *fakeRegistry) Toppings() repositories.ToppingRepository { return fakeToppingRepo{} }
func (r *fakeRegistry) ProductToppings() repositories.ProductToppingRepository {
	return fakeProductToppingRepo{}
}

func (r *fakeRegistry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingPublisher struct {
	events []services.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	p.events = append(p.events, event)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Store:   config.StoreConfig{Driver: config.StoreDriverPostgres},
		Reports: config.ReportsConfig{Timezone: "UTC", Location: time.UTC},
	}
}

func TestNewContainerWithSuppliedBackends(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := &fakeRegistry{health: fakeHealthRepo{report: domain.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{"postgres": {Status: domain.HealthStatusOK}},
	}}}
	store := idempotency.NewMemoryStore()

	container, err := NewContainer(context.Background(), testConfig(),
		WithRegistry(reg),
		WithIdempotencyStore(store),
		WithOrderEventPublisher(&recordingPublisher{}),
		WithClock(func() time.Time { return now }),
		WithBuildInfo(services.BuildInfo{Version: "1.2.3"}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if container.Repositories != reg {
		t.Fatalf("expected supplied registry to be used")
	}
	if container.Idempotency != store {
		t.Fatalf("expected supplied idempotency store to be used")
	}
	svc := container.Services
	if svc.Orders == nil || svc.Catalog == nil || svc.Toppings == nil || svc.Users == nil || svc.Reports == nil || svc.Activation == nil {
		t.Fatalf("expected core services to be built, got %+v", svc)
	}
	if svc.System == nil {
		t.Fatalf("expected system service when registry exposes health")
	}

	live := svc.System.Liveness(context.Background())
	if live.Version != "1.2.3" {
		t.Fatalf("expected build version, got %q", live.Version)
	}
	if live.OrderStore != config.StoreDriverPostgres {
		t.Fatalf("expected order store to default to driver, got %q", live.OrderStore)
	}

	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if reg.closed {
		t.Fatalf("supplied registry must not be closed by the container")
	}
}

func TestNewContainerWithoutHealthRepository(t *testing.T) {
	container, err := NewContainer(context.Background(), testConfig(),
		WithRegistry(&fakeRegistry{}),
		WithIdempotencyStore(idempotency.NewMemoryStore()),
		WithOrderEventPublisher(&recordingPublisher{}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if container.Services.System != nil {
		t.Fatalf("expected no system service without a health repository")
	}
	if container.Services.Orders == nil {
		t.Fatalf("expected order service")
	}
}

func TestContainerCloseRunsClosersInReverse(t *testing.T) {
	var order []string
	c := &Container{}
	c.onClose(func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	c.onClose(func(context.Context) error {
		order = append(order, "second")
		return context.Canceled
	})

	err := c.Close(context.Background())
	if err == nil {
		t.Fatalf("expected close error to be reported")
	}
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("unexpected close order %v", order)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestContainerCloseNil(t *testing.T) {
	var c *Container
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
