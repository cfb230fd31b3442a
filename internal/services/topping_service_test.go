package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/repositories"
)

type stubToppingRepo struct {
	insertFn     func(context.Context, domain.MenuTopping) error
	updateFn     func(context.Context, domain.MenuTopping) error
	findFn       func(context.Context, string) (domain.MenuTopping, error)
	findByNameFn func(context.Context, string) (domain.MenuTopping, error)
	findManyFn   func(context.Context, []string) ([]domain.MenuTopping, error)
	listFn       func(context.Context, repositories.ToppingListFilter) (domain.OffsetPage[domain.MenuTopping], error)
}

func (s *stubToppingRepo) Insert(ctx context.Context, topping domain.MenuTopping) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, topping)
	}
	return nil
}

func (s *stubToppingRepo) Update(ctx context.Context, topping domain.MenuTopping) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, topping)
	}
	return nil
}

func (s *stubToppingRepo) FindByID(ctx context.Context, toppingID string) (domain.MenuTopping, error) {
	if s.findFn != nil {
		return s.findFn(ctx, toppingID)
	}
	return domain.MenuTopping{}, testRepoError{notFound: true}
}

func (s *stubToppingRepo) FindByName(ctx context.Context, name string) (domain.MenuTopping, error) {
	if s.findByNameFn != nil {
		return s.findByNameFn(ctx, name)
	}
	return domain.MenuTopping{}, testRepoError{notFound: true}
}

func (s *stubToppingRepo) FindByIDs(ctx context.Context, toppingIDs []string) ([]domain.MenuTopping, error) {
	if s.findManyFn != nil {
		return s.findManyFn(ctx, toppingIDs)
	}
	return nil, nil
}

func (s *stubToppingRepo) List(ctx context.Context, filter repositories.ToppingListFilter) (domain.OffsetPage[domain.MenuTopping], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.OffsetPage[domain.MenuTopping]{}, nil
}

type stubProductToppingRepo struct {
	insertFn func(context.Context, domain.ProductTopping) error
	deleteFn func(context.Context, string) error
	pairFn   func(context.Context, string, string) (domain.ProductTopping, error)
	listFn   func(context.Context, string) ([]domain.ProductTopping, error)
}

func (s *stubProductToppingRepo) Insert(ctx context.Context, link domain.ProductTopping) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, link)
	}
	return nil
}

func (s *stubProductToppingRepo) Delete(ctx context.Context, linkID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, linkID)
	}
	return nil
}

func (s *stubProductToppingRepo) FindByPair(ctx context.Context, productID, toppingID string) (domain.ProductTopping, error) {
	if s.pairFn != nil {
		return s.pairFn(ctx, productID, toppingID)
	}
	return domain.ProductTopping{}, testRepoError{notFound: true}
}

func (s *stubProductToppingRepo) ListByProduct(ctx context.Context, productID string) ([]domain.ProductTopping, error) {
	if s.listFn != nil {
		return s.listFn(ctx, productID)
	}
	return nil, nil
}

// toppingStore keeps toppings and product links in maps alongside a memoryStore for products.
type toppingStore struct {
	*memoryStore
	toppings map[string]domain.MenuTopping
	links    map[string]domain.ProductTopping
}

func newToppingStore(products ...domain.Product) *toppingStore {
	return &toppingStore{
		memoryStore: newMemoryStore(products...),
		toppings:    map[string]domain.MenuTopping{},
		links:       map[string]domain.ProductTopping{},
	}
}

func (m *toppingStore) toppingRepo() *stubToppingRepo {
	return &stubToppingRepo{
		insertFn: func(_ context.Context, topping domain.MenuTopping) error {
			m.calls++
			m.toppings[topping.ID] = topping
			return nil
		},
		updateFn: func(_ context.Context, topping domain.MenuTopping) error {
			m.calls++
			if _, ok := m.toppings[topping.ID]; !ok {
				return testRepoError{notFound: true}
			}
			m.toppings[topping.ID] = topping
			return nil
		},
		findFn: func(_ context.Context, toppingID string) (domain.MenuTopping, error) {
			topping, ok := m.toppings[toppingID]
			if !ok {
				return domain.MenuTopping{}, testRepoError{notFound: true}
			}
			return topping, nil
		},
		findByNameFn: func(_ context.Context, name string) (domain.MenuTopping, error) {
			for _, topping := range m.toppings {
				if topping.Name == name {
					return topping, nil
				}
			}
			return domain.MenuTopping{}, testRepoError{notFound: true}
		},
		findManyFn: func(_ context.Context, ids []string) ([]domain.MenuTopping, error) {
			var found []domain.MenuTopping
			for _, id := range ids {
				if topping, ok := m.toppings[id]; ok {
					found = append(found, topping)
				}
			}
			return found, nil
		},
		listFn: func(_ context.Context, filter repositories.ToppingListFilter) (domain.OffsetPage[domain.MenuTopping], error) {
			var items []domain.MenuTopping
			for _, topping := range m.toppings {
				if filter.ActiveOnly && !topping.IsActive {
					continue
				}
				items = append(items, topping)
			}
			slices.SortFunc(items, func(a, b domain.MenuTopping) int { return strings.Compare(a.Name, b.Name) })
			return domain.OffsetPage[domain.MenuTopping]{Items: items, Total: len(items), Limit: filter.Pagination.Limit}, nil
		},
	}
}

func (m *toppingStore) productToppingRepo() *stubProductToppingRepo {
	return &stubProductToppingRepo{
		insertFn: func(_ context.Context, link domain.ProductTopping) error {
			m.calls++
			for _, existing := range m.links {
				if existing.ProductID == link.ProductID && existing.ToppingID == link.ToppingID {
					return testRepoError{conflict: true, detail: "product topping already exists"}
				}
			}
			m.links[link.ID] = link
			return nil
		},
		deleteFn: func(_ context.Context, linkID string) error {
			if _, ok := m.links[linkID]; !ok {
				return testRepoError{notFound: true}
			}
			delete(m.links, linkID)
			return nil
		},
		pairFn: func(_ context.Context, productID, toppingID string) (domain.ProductTopping, error) {
			for _, link := range m.links {
				if link.ProductID == productID && link.ToppingID == toppingID {
					return link, nil
				}
			}
			return domain.ProductTopping{}, testRepoError{notFound: true}
		},
		listFn: func(_ context.Context, productID string) ([]domain.ProductTopping, error) {
			var links []domain.ProductTopping
			for _, link := range m.links {
				if link.ProductID == productID {
					links = append(links, link)
				}
			}
			slices.SortFunc(links, func(a, b domain.ProductTopping) int { return a.CreatedAt.Compare(b.CreatedAt) })
			return links, nil
		},
	}
}

func newTestToppingService(t *testing.T, store *toppingStore) ToppingService {
	t.Helper()
	seq := 0
	svc, err := NewToppingService(ToppingServiceDeps{
		Toppings:        store.toppingRepo(),
		ProductToppings: store.productToppingRepo(),
		Products:        store.productRepo(),
		UnitOfWork:      &stubUnitOfWork{},
		Clock:           func() time.Time { return testNow },
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("%03d", seq)
		},
	})
	if err != nil {
		t.Fatalf("new topping service: %v", err)
	}
	return svc
}

func testTopping(id, name, price string, maxAmount int) domain.MenuTopping {
	return domain.MenuTopping{ID: id, Name: name, Price: decimal.RequireFromString(price), MaximumAmount: maxAmount, IsActive: true}
}

func toppingFields(price string, maxAmount int) (*decimal.Decimal, *int) {
	value := decimal.RequireFromString(price)
	return &value, &maxAmount
}

func TestNewToppingServiceRequiresRepositories(t *testing.T) {
	store := newToppingStore()
	if _, err := NewToppingService(ToppingServiceDeps{ProductToppings: store.productToppingRepo(), Products: store.productRepo()}); err == nil {
		t.Fatalf("expected missing topping repository error")
	}
	if _, err := NewToppingService(ToppingServiceDeps{Toppings: store.toppingRepo(), Products: store.productRepo()}); err == nil {
		t.Fatalf("expected missing product topping repository error")
	}
	if _, err := NewToppingService(ToppingServiceDeps{Toppings: store.toppingRepo(), ProductToppings: store.productToppingRepo()}); err == nil {
		t.Fatalf("expected missing product repository error")
	}
}

func TestToppingServiceCreateTopping(t *testing.T) {
	store := newToppingStore()
	svc := newTestToppingService(t, store)

	price, amount := toppingFields("1.5", 3)
	topping, err := svc.CreateTopping(context.Background(), UpsertToppingCommand{Name: "  Extra   cheese ", Price: price, MaximumAmount: amount})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if topping.ID != "top_001" || topping.Name != "Extra cheese" || !topping.IsActive {
		t.Fatalf("unexpected topping %+v", topping)
	}
	if !topping.Price.Equal(decimal.RequireFromString("1.50")) || topping.MaximumAmount != 3 {
		t.Fatalf("unexpected price or amount %+v", topping)
	}
	if !topping.CreatedAt.Equal(testNow) || !topping.UpdatedAt.Equal(testNow) {
		t.Fatalf("expected timestamps from clock, got %+v", topping)
	}
	if _, ok := store.toppings["top_001"]; !ok {
		t.Fatalf("expected topping to be stored")
	}
}

func TestToppingServiceCreateRejectsDuplicateName(t *testing.T) {
	store := newToppingStore()
	store.toppings["top_x"] = testTopping("top_x", "Cheese", "1.00", 2)
	svc := newTestToppingService(t, store)

	price, amount := toppingFields("2.00", 2)
	_, err := svc.CreateTopping(context.Background(), UpsertToppingCommand{Name: "Cheese", Price: price, MaximumAmount: amount})
	if !errors.Is(err, ErrToppingConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(store.toppings) != 1 {
		t.Fatalf("expected no new topping, got %d", len(store.toppings))
	}
}

func TestToppingServiceCreateValidatesInput(t *testing.T) {
	cases := map[string]func() UpsertToppingCommand{
		"missing price": func() UpsertToppingCommand {
			_, amount := toppingFields("1", 2)
			return UpsertToppingCommand{Name: "Cheese", MaximumAmount: amount}
		},
		"missing amount": func() UpsertToppingCommand {
			price, _ := toppingFields("1", 2)
			return UpsertToppingCommand{Name: "Cheese", Price: price}
		},
		"short name": func() UpsertToppingCommand {
			price, amount := toppingFields("1", 2)
			return UpsertToppingCommand{Name: "Ch", Price: price, MaximumAmount: amount}
		},
		"zero price": func() UpsertToppingCommand {
			price, amount := toppingFields("0", 2)
			return UpsertToppingCommand{Name: "Cheese", Price: price, MaximumAmount: amount}
		},
		"too precise": func() UpsertToppingCommand {
			price, amount := toppingFields("1.005", 2)
			return UpsertToppingCommand{Name: "Cheese", Price: price, MaximumAmount: amount}
		},
		"amount above ten": func() UpsertToppingCommand {
			price, amount := toppingFields("1", 11)
			return UpsertToppingCommand{Name: "Cheese", Price: price, MaximumAmount: amount}
		},
		"amount zero": func() UpsertToppingCommand {
			price, amount := toppingFields("1", 0)
			return UpsertToppingCommand{Name: "Cheese", Price: price, MaximumAmount: amount}
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			store := newToppingStore()
			svc := newTestToppingService(t, store)
			if _, err := svc.CreateTopping(context.Background(), build()); !errors.Is(err, ErrToppingInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if len(store.toppings) != 0 {
				t.Fatalf("expected nothing stored")
			}
		})
	}
}

func TestToppingServiceGetHidesInactive(t *testing.T) {
	store := newToppingStore()
	olives := testTopping("top_o", "Olives", "0.80", 2)
	olives.IsActive = false
	store.toppings[olives.ID] = olives
	store.toppings["top_c"] = testTopping("top_c", "Cheese", "1.00", 3)
	svc := newTestToppingService(t, store)

	if _, err := svc.GetTopping(context.Background(), "Olives"); !errors.Is(err, ErrToppingNotFound) {
		t.Fatalf("expected inactive topping to be hidden, got %v", err)
	}
	if _, err := svc.GetTopping(context.Background(), "Anchovy"); !errors.Is(err, ErrToppingNotFound) {
		t.Fatalf("expected unknown topping to be not found, got %v", err)
	}
	topping, err := svc.GetTopping(context.Background(), "Cheese")
	if err != nil || topping.ID != "top_c" {
		t.Fatalf("expected cheese, got %+v %v", topping, err)
	}

	page, err := svc.ListToppings(context.Background(), ToppingListFilter{})
	if err != nil || len(page.Items) != 1 {
		t.Fatalf("expected one active topping, got %+v %v", page, err)
	}
	page, err = svc.ListToppings(context.Background(), ToppingListFilter{IncludeInactive: true})
	if err != nil || len(page.Items) != 2 {
		t.Fatalf("expected both toppings for admins, got %+v %v", page, err)
	}
}

func TestToppingServiceUpdateRenamesAndReactivates(t *testing.T) {
	store := newToppingStore()
	cheese := testTopping("top_c", "Cheese", "1.00", 3)
	cheese.IsActive = false
	store.toppings[cheese.ID] = cheese
	store.toppings["top_o"] = testTopping("top_o", "Olives", "0.80", 2)
	svc := newTestToppingService(t, store)

	taken := "Olives"
	if _, err := svc.UpdateTopping(context.Background(), UpsertToppingCommand{Name: "Cheese", NewName: &taken}); !errors.Is(err, ErrToppingConflict) {
		t.Fatalf("expected rename conflict, got %v", err)
	}

	rename := "Mozzarella"
	active := true
	updated, err := svc.UpdateTopping(context.Background(), UpsertToppingCommand{Name: "Cheese", NewName: &rename, IsActive: &active})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Mozzarella" || !updated.IsActive || !updated.Price.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("unexpected topping %+v", updated)
	}
	if store.toppings["top_c"].Name != "Mozzarella" {
		t.Fatalf("expected rename to persist")
	}

	same := "Mozzarella"
	if _, err := svc.UpdateTopping(context.Background(), UpsertToppingCommand{Name: "Mozzarella", NewName: &same}); err != nil {
		t.Fatalf("expected renaming to the same name to succeed, got %v", err)
	}

	if _, err := svc.UpdateTopping(context.Background(), UpsertToppingCommand{Name: "Mozzarella"}); !errors.Is(err, ErrToppingInvalidInput) {
		t.Fatalf("expected empty patch to be rejected, got %v", err)
	}
	if _, err := svc.UpdateTopping(context.Background(), UpsertToppingCommand{Name: "Anchovy", IsActive: &active}); !errors.Is(err, ErrToppingNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestToppingServiceDeactivate(t *testing.T) {
	store := newToppingStore()
	store.toppings["top_c"] = testTopping("top_c", "Cheese", "1.00", 3)
	svc := newTestToppingService(t, store)

	topping, err := svc.DeactivateTopping(context.Background(), "Cheese")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if topping.IsActive || store.toppings["top_c"].IsActive {
		t.Fatalf("expected topping to be inactive")
	}
	if _, err := svc.GetTopping(context.Background(), "Cheese"); !errors.Is(err, ErrToppingNotFound) {
		t.Fatalf("expected deactivated topping to be hidden, got %v", err)
	}
}

func TestToppingServiceAttachTopping(t *testing.T) {
	store := newToppingStore(testProduct("P1", "10.00"))
	store.toppings["top_c"] = testTopping("top_c", "Cheese", "1.00", 3)
	svc := newTestToppingService(t, store)

	link, err := svc.AttachTopping(context.Background(), AttachToppingCommand{ProductID: "P1", ToppingID: "top_c", Quantity: 2})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if link.ID != "ptp_001" || link.Quantity != 2 || link.Topping == nil || link.Topping.Name != "Cheese" {
		t.Fatalf("unexpected link %+v", link)
	}
	if _, ok := store.links["ptp_001"]; !ok {
		t.Fatalf("expected link to be stored")
	}

	_, err = svc.AttachTopping(context.Background(), AttachToppingCommand{ProductID: "P1", ToppingID: "top_c", Quantity: 1})
	if !errors.Is(err, ErrToppingConflict) {
		t.Fatalf("expected duplicate pair conflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "product already has topping Cheese") {
		t.Fatalf("unexpected conflict message %q", err.Error())
	}
	if len(store.links) != 1 {
		t.Fatalf("expected a single link, got %d", len(store.links))
	}
}

func TestToppingServiceAttachValidates(t *testing.T) {
	inactiveProduct := testProduct("P2", "8.00")
	inactiveProduct.IsActive = false
	olives := testTopping("top_o", "Olives", "0.80", 2)
	olives.IsActive = false

	cases := []struct {
		name   string
		cmd    AttachToppingCommand
		target error
	}{
		{"quantity above maximum", AttachToppingCommand{ProductID: "P1", ToppingID: "top_c", Quantity: 4}, ErrToppingInvalidInput},
		{"quantity zero", AttachToppingCommand{ProductID: "P1", ToppingID: "top_c", Quantity: 0}, ErrToppingInvalidInput},
		{"missing ids", AttachToppingCommand{Quantity: 1}, ErrToppingInvalidInput},
		{"inactive product", AttachToppingCommand{ProductID: "P2", ToppingID: "top_c", Quantity: 1}, ErrProductNotFound},
		{"unknown product", AttachToppingCommand{ProductID: "P9", ToppingID: "top_c", Quantity: 1}, ErrProductNotFound},
		{"inactive topping", AttachToppingCommand{ProductID: "P1", ToppingID: "top_o", Quantity: 1}, ErrToppingNotFound},
		{"unknown topping", AttachToppingCommand{ProductID: "P1", ToppingID: "top_x", Quantity: 1}, ErrToppingNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newToppingStore(testProduct("P1", "10.00"), inactiveProduct)
			store.toppings["top_c"] = testTopping("top_c", "Cheese", "1.00", 3)
			store.toppings[olives.ID] = olives
			svc := newTestToppingService(t, store)

			if _, err := svc.AttachTopping(context.Background(), tc.cmd); !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
			if len(store.links) != 0 {
				t.Fatalf("expected no link to be stored")
			}
		})
	}
}

func TestToppingServiceDetachTopping(t *testing.T) {
	store := newToppingStore(testProduct("P1", "10.00"))
	store.links["ptp_1"] = domain.ProductTopping{ID: "ptp_1", ProductID: "P1", ToppingID: "top_c", Quantity: 1}
	svc := newTestToppingService(t, store)

	if err := svc.DetachTopping(context.Background(), "ptp_1"); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if len(store.links) != 0 {
		t.Fatalf("expected link to be removed")
	}
	if err := svc.DetachTopping(context.Background(), "ptp_1"); !errors.Is(err, ErrProductToppingNotFound) {
		t.Fatalf("expected not found on second detach, got %v", err)
	}
}

func TestToppingServiceListProductToppingsSkipsInactive(t *testing.T) {
	inactiveProduct := testProduct("P2", "8.00")
	inactiveProduct.IsActive = false
	store := newToppingStore(testProduct("P1", "10.00"), inactiveProduct, testProduct("P3", "4.00"))
	store.toppings["top_c"] = testTopping("top_c", "Cheese", "1.00", 3)
	olives := testTopping("top_o", "Olives", "0.80", 2)
	olives.IsActive = false
	store.toppings[olives.ID] = olives
	store.toppings["top_h"] = testTopping("top_h", "Ham", "2.00", 2)
	store.links["ptp_1"] = domain.ProductTopping{ID: "ptp_1", ProductID: "P1", ToppingID: "top_h", Quantity: 1, CreatedAt: testNow.Add(time.Minute)}
	store.links["ptp_2"] = domain.ProductTopping{ID: "ptp_2", ProductID: "P1", ToppingID: "top_c", Quantity: 2, CreatedAt: testNow}
	store.links["ptp_3"] = domain.ProductTopping{ID: "ptp_3", ProductID: "P1", ToppingID: "top_o", Quantity: 1, CreatedAt: testNow}
	svc := newTestToppingService(t, store)

	links, err := svc.ListProductToppings(context.Background(), "P1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(links) != 2 || links[0].ID != "ptp_2" || links[1].ID != "ptp_1" {
		t.Fatalf("expected cheese then ham, got %+v", links)
	}
	if links[0].Topping == nil || links[0].Topping.Name != "Cheese" {
		t.Fatalf("expected topping to be populated, got %+v", links[0])
	}

	empty, err := svc.ListProductToppings(context.Background(), "P3")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v %v", empty, err)
	}
	if _, err := svc.ListProductToppings(context.Background(), "P2"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected inactive product to be not found, got %v", err)
	}
}

func TestToppingServiceMapsRepositoryFailures(t *testing.T) {
	store := newToppingStore()
	repo := store.toppingRepo()
	repo.listFn = func(context.Context, repositories.ToppingListFilter) (domain.OffsetPage[domain.MenuTopping], error) {
		return domain.OffsetPage[domain.MenuTopping]{}, testRepoError{unavailable: true}
	}
	svc, err := NewToppingService(ToppingServiceDeps{
		Toppings:        repo,
		ProductToppings: store.productToppingRepo(),
		Products:        store.productRepo(),
	})
	if err != nil {
		t.Fatalf("new topping service: %v", err)
	}
	if _, err := svc.ListToppings(context.Background(), ToppingListFilter{}); !errors.Is(err, ErrToppingUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
