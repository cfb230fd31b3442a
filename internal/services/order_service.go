package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/platform/textutil"
	"github.com/restaurant-ordering/api/internal/repositories"
)

const (
	orderEventCreated      = "order.created"
	orderEventUpdated      = "order.updated"
	orderEventStateChanged = "order.state_changed"
	orderEventCancelled    = "order.cancelled"
	orderEventErased       = "order.erased"
	orderEventActivated    = "order.activated"

	orderIDPrefix = "ord_"

	maxAddressLength   = 500
	maxUserLoadWorkers = 8
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the principal may not perform the operation on the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderNotCancellable indicates the order already left the kitchen.
	ErrOrderNotCancellable = errors.New("order: not cancellable")
	// ErrOrderInvalidState indicates a backward or terminal state change was attempted.
	ErrOrderInvalidState = errors.New("order: invalid state transition")
	// ErrOrderConflict indicates a uniqueness or concurrency conflict in the store.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the store could not be reached.
	ErrOrderUnavailable = errors.New("order: store unavailable")
	// ErrOrderPersistence wraps unexpected store failures. Details are logged, not returned.
	ErrOrderPersistence = errors.New("order: persistence failure")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	OrderProducts repositories.OrderProductRepository
	Products      repositories.ProductRepository
	Users         repositories.UserRepository
	Catalog       CatalogService
	UnitOfWork    repositories.UnitOfWork
	Clock         func() time.Time
	IDGenerator   func() string
	Events        OrderEventPublisher
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	orderProducts repositories.OrderProductRepository
	products      repositories.ProductRepository
	users         repositories.UserRepository
	catalog       CatalogService
	unitOfWork    repositories.UnitOfWork
	clock         func() time.Time
	newID         func() string
	events        OrderEventPublisher
	logger        func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.OrderProducts == nil {
		return nil, errors.New("order service: order product repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("order service: user repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:        deps.Orders,
		orderProducts: deps.OrderProducts,
		products:      deps.Products,
		users:         deps.Users,
		catalog:       deps.Catalog,
		unitOfWork:    unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	principal := cmd.Principal
	if principal == nil || strings.TrimSpace(principal.ID) == "" {
		return Order{}, fmt.Errorf("%w: authentication required", ErrOrderForbidden)
	}
	if principal.IsDelivery() {
		return Order{}, fmt.Errorf("%w: delivery staff cannot place orders", ErrOrderForbidden)
	}

	productIDs := uniqueProductIDs(cmd.ProductIDs)
	if len(productIDs) == 0 {
		return Order{}, fmt.Errorf("%w: at least one product is required", ErrOrderInvalidInput)
	}
	address, err := normalizeAddress(cmd.Address)
	if err != nil {
		return Order{}, err
	}
	state := cmd.State
	if state == "" {
		state = domain.OrderStatePending
	}
	if !state.Valid() {
		return Order{}, fmt.Errorf("%w: unknown state %q", ErrOrderInvalidInput, state)
	}
	toppings, err := normalizeToppings(cmd.Toppings)
	if err != nil {
		return Order{}, err
	}
	items, err := normalizeItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		orderID = s.nextOrderID()
	}

	now := s.now()
	order := Order{
		ID:         orderID,
		Date:       now,
		UserID:     strings.TrimSpace(principal.ID),
		State:      state,
		Address:    address,
		IsActive:   cmd.Active,
		ProductIDs: productIDs,
		Toppings:   toppings,
		Items:      items,
		UpdatedAt:  now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		products, err := s.catalog.Resolve(txCtx, productIDs)
		if err != nil {
			return err
		}
		order.Total = sumPrices(products)

		stored, err := s.users.FindByID(txCtx, order.UserID)
		switch {
		case err == nil && !stored.IsActive:
			return fmt.Errorf("%w: user %s is deactivated", ErrOrderForbidden, order.UserID)
		case err != nil && !isRepositoryNotFound(err):
			return s.mapRepositoryError(err)
		}

		owner := User{
			ID:          order.UserID,
			Email:       strings.TrimSpace(principal.Email),
			DisplayName: strings.TrimSpace(principal.DisplayName),
			IsActive:    true,
			UpdatedAt:   now,
		}
		if err := s.users.Upsert(txCtx, owner); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orderProducts.Insert(txCtx, order.ID, productIDs); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, s.fail(ctx, "order.create.failed", order.ID, err)
	}

	created, err := s.hydrateOne(ctx, order)
	if err != nil {
		return Order{}, s.fail(ctx, "order.create.reload_failed", order.ID, err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:         orderEventCreated,
		OrderID:      created.ID,
		UserID:       created.UserID,
		CurrentState: string(created.State),
		ActorID:      principal.ID,
		OccurredAt:   now,
		Metadata: map[string]any{
			"total":        created.Total.StringFixed(2),
			"productCount": len(productIDs),
			"active":       created.IsActive,
		},
	})
	return created, nil
}

func (s *orderService) FindAll(ctx context.Context, pager OffsetPagination) (domain.OffsetPage[Order], error) {
	return s.list(ctx, repositories.OrderListFilter{ActiveOnly: true, Pagination: pager})
}

func (s *orderService) FindByUser(ctx context.Context, userID string, pager OffsetPagination) (domain.OffsetPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.OffsetPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	return s.list(ctx, repositories.OrderListFilter{UserID: userID, ActiveOnly: true, Pagination: pager})
}

func (s *orderService) list(ctx context.Context, filter repositories.OrderListFilter) (domain.OffsetPage[Order], error) {
	filter.Pagination = filter.Pagination.Normalize()
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.OffsetPage[Order]{}, s.fail(ctx, "order.list.failed", "", err)
	}
	items, err := s.hydrate(ctx, page.Items, true)
	if err != nil {
		return domain.OffsetPage[Order]{}, s.fail(ctx, "order.list.failed", "", err)
	}
	page.Items = items
	return page, nil
}

func (s *orderService) FindOne(ctx context.Context, orderID string, principal *Principal) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.fail(ctx, "order.find.failed", orderID, err)
	}
	if principal != nil && !principal.IsAdmin() && !principal.IsDelivery() && !order.OwnedBy(principal.ID) {
		return Order{}, fmt.Errorf("%w: not the order owner", ErrOrderForbidden)
	}
	loaded, err := s.hydrateOne(ctx, order)
	if err != nil {
		return Order{}, s.fail(ctx, "order.find.failed", orderID, err)
	}
	return loaded, nil
}

func (s *orderService) Update(ctx context.Context, cmd UpdateOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	patch := cmd.Patch
	fields := patch.Fields()
	if fields.Empty() {
		return Order{}, fmt.Errorf("%w: patch must contain at least one field", ErrOrderInvalidInput)
	}

	var (
		target     OrderState
		address    string
		productIDs []string
		toppings   []Topping
		items      []LineItem
		err        error
	)
	if patch.State != nil {
		target = *patch.State
		if !target.Valid() {
			return Order{}, fmt.Errorf("%w: unknown state %q", ErrOrderInvalidInput, target)
		}
	}
	if patch.Address != nil {
		if address, err = normalizeAddress(*patch.Address); err != nil {
			return Order{}, err
		}
	}
	if patch.ProductIDs != nil {
		productIDs = uniqueProductIDs(*patch.ProductIDs)
		if len(productIDs) == 0 {
			return Order{}, fmt.Errorf("%w: at least one product is required", ErrOrderInvalidInput)
		}
	}
	if patch.Toppings != nil {
		if toppings, err = normalizeToppings(*patch.Toppings); err != nil {
			return Order{}, err
		}
	}
	if patch.Items != nil {
		if items, err = normalizeItems(*patch.Items); err != nil {
			return Order{}, err
		}
	}

	now := s.now()
	var (
		updated  Order
		previous OrderState
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		decision := AuthorizeOrderMutation(cmd.Principal, order, OrderChange{
			Action:      OrderActionUpdate,
			Fields:      fields,
			TargetState: target,
		})
		if !decision.Allowed {
			return fmt.Errorf("%w: %s", ErrOrderForbidden, decision.Reason)
		}

		previous = order.State
		if fields.State {
			if err := checkStateChange(order.State, target); err != nil {
				return err
			}
			order.State = target
		}
		if fields.ProductIDs {
			if previous.Terminal() {
				return fmt.Errorf("%w: products of a %s order cannot change", ErrOrderInvalidState, previous)
			}
			products, err := s.catalog.Resolve(txCtx, productIDs)
			if err != nil {
				return err
			}
			order.Total = sumPrices(products)
			order.ProductIDs = productIDs
			if err := s.orderProducts.Replace(txCtx, order.ID, productIDs); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		if fields.Address {
			order.Address = address
		}
		if fields.Toppings {
			order.Toppings = toppings
		}
		if fields.Items {
			order.Items = items
		}
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, s.fail(ctx, "order.update.failed", orderID, err)
	}

	loaded, err := s.hydrateOne(ctx, updated)
	if err != nil {
		return Order{}, s.fail(ctx, "order.update.reload_failed", orderID, err)
	}

	actorID := principalID(cmd.Principal)
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventUpdated,
		OrderID:       loaded.ID,
		UserID:        loaded.UserID,
		PreviousState: string(previous),
		CurrentState:  string(loaded.State),
		ActorID:       actorID,
		OccurredAt:    now,
		Metadata:      map[string]any{"fields": patchFieldNames(fields)},
	})
	if previous != loaded.State {
		s.publishEvent(ctx, OrderEvent{
			Type:          orderEventStateChanged,
			OrderID:       loaded.ID,
			UserID:        loaded.UserID,
			PreviousState: string(previous),
			CurrentState:  string(loaded.State),
			ActorID:       actorID,
			OccurredAt:    now,
		})
	}
	return loaded, nil
}

func (s *orderService) Remove(ctx context.Context, cmd RemoveOrderCommand) (RemoveOrderResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return RemoveOrderResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	var (
		order    Order
		previous OrderState
		changed  bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		decision := AuthorizeOrderMutation(cmd.Principal, order, OrderChange{
			Action:      OrderActionCancel,
			TargetState: domain.OrderStateCancelled,
		})
		if !decision.Allowed {
			return fmt.Errorf("%w: %s", ErrOrderForbidden, decision.Reason)
		}
		if order.State == domain.OrderStateCancelled {
			return nil
		}
		if !order.State.Cancellable() {
			return fmt.Errorf("%w: order is %s", ErrOrderNotCancellable, order.State)
		}

		previous = order.State
		order.State = domain.OrderStateCancelled
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return RemoveOrderResult{}, s.fail(ctx, "order.cancel.failed", orderID, err)
	}

	if changed {
		s.publishEvent(ctx, OrderEvent{
			Type:          orderEventCancelled,
			OrderID:       order.ID,
			UserID:        order.UserID,
			PreviousState: string(previous),
			CurrentState:  string(order.State),
			ActorID:       principalID(cmd.Principal),
			OccurredAt:    now,
		})
	}
	return RemoveOrderResult{
		OrderID: order.ID,
		Message: fmt.Sprintf("Order with ID %s has been cancelled successfully", order.ID),
	}, nil
}

func (s *orderService) Erase(ctx context.Context, cmd RemoveOrderCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var order Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		decision := AuthorizeOrderMutation(cmd.Principal, order, OrderChange{Action: OrderActionErase})
		if !decision.Allowed {
			return fmt.Errorf("%w: %s", ErrOrderForbidden, decision.Reason)
		}
		if !order.State.Cancellable() {
			return fmt.Errorf("%w: order is %s", ErrOrderNotCancellable, order.State)
		}
		if err := s.orderProducts.DeleteByOrder(txCtx, order.ID); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.Delete(txCtx, order.ID); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, "order.erase.failed", orderID, err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventErased,
		OrderID:       order.ID,
		UserID:        order.UserID,
		PreviousState: string(order.State),
		ActorID:       principalID(cmd.Principal),
		OccurredAt:    s.now(),
	})
	return nil
}

func (s *orderService) ActivateOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	var (
		order   Order
		changed bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if order.IsActive {
			return nil
		}
		order.IsActive = true
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return Order{}, s.fail(ctx, "order.activate.failed", orderID, err)
	}

	loaded, err := s.hydrateOne(ctx, order)
	if err != nil {
		return Order{}, s.fail(ctx, "order.activate.reload_failed", orderID, err)
	}
	if changed {
		s.publishEvent(ctx, OrderEvent{
			Type:         orderEventActivated,
			OrderID:      loaded.ID,
			UserID:       loaded.UserID,
			CurrentState: string(loaded.State),
			OccurredAt:   now,
		})
	}
	return loaded, nil
}

func (s *orderService) Advance(ctx context.Context, cmd AdvanceOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	var (
		order    Order
		previous OrderState
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		decision := AuthorizeOrderMutation(cmd.Principal, order, OrderChange{
			Action:      OrderActionAdvance,
			TargetState: order.State.Next(),
		})
		if !decision.Allowed {
			return fmt.Errorf("%w: %s", ErrOrderForbidden, decision.Reason)
		}
		previous = order.State
		if order.State.Terminal() {
			return nil
		}
		order.State = order.State.Next()
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, s.fail(ctx, "order.advance.failed", orderID, err)
	}

	loaded, err := s.hydrateOne(ctx, order)
	if err != nil {
		return Order{}, s.fail(ctx, "order.advance.reload_failed", orderID, err)
	}
	if previous != loaded.State {
		s.publishEvent(ctx, OrderEvent{
			Type:          orderEventStateChanged,
			OrderID:       loaded.ID,
			UserID:        loaded.UserID,
			PreviousState: string(previous),
			CurrentState:  string(loaded.State),
			ActorID:       principalID(cmd.Principal),
			OccurredAt:    now,
		})
	}
	return loaded, nil
}

func (s *orderService) FindByDateRange(ctx context.Context, start, end time.Time, states ...OrderState) ([]Order, error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: start and end dates are required", ErrOrderInvalidInput)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date precedes start date", ErrOrderInvalidInput)
	}
	for _, state := range states {
		if !state.Valid() {
			return nil, fmt.Errorf("%w: unknown state %q", ErrOrderInvalidInput, state)
		}
	}

	orders, err := s.orders.ListByDateRange(ctx, repositories.OrderRangeFilter{
		DateRange: domain.RangeQuery[time.Time]{From: &start, To: &end},
		States:    states,
	})
	if err != nil {
		return nil, s.fail(ctx, "order.range.failed", "", err)
	}
	loaded, err := s.hydrate(ctx, orders, false)
	if err != nil {
		return nil, s.fail(ctx, "order.range.failed", "", err)
	}
	return loaded, nil
}

func (s *orderService) hydrateOne(ctx context.Context, order Order) (Order, error) {
	loaded, err := s.hydrate(ctx, []Order{order}, true)
	if err != nil {
		return Order{}, err
	}
	return loaded[0], nil
}

// hydrate loads product ids, products and, when withOwners is set, owner profiles for orders.
func (s *orderService) hydrate(ctx context.Context, orders []Order, withOwners bool) ([]Order, error) {
	if len(orders) == 0 {
		return orders, nil
	}

	orderIDs := make([]string, 0, len(orders))
	ownerIDs := make(map[string]struct{})
	for _, order := range orders {
		orderIDs = append(orderIDs, order.ID)
		ownerIDs[order.UserID] = struct{}{}
	}

	var (
		associations map[string][]string
		products     = map[string]Product{}
		owners       = map[string]*User{}
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		associations, err = s.orderProducts.ListByOrders(groupCtx, orderIDs)
		if err != nil {
			return err
		}
		seen := make(map[string]struct{})
		var productIDs []string
		for _, ids := range associations {
			for _, id := range ids {
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					productIDs = append(productIDs, id)
				}
			}
		}
		if len(productIDs) == 0 {
			return nil
		}
		found, err := s.products.FindByIDs(groupCtx, productIDs)
		if err != nil {
			return err
		}
		for _, product := range found {
			products[product.ID] = product
		}
		return nil
	})

	if withOwners {
		type ownerResult struct {
			id   string
			user *User
		}
		results := make(chan ownerResult, len(ownerIDs))
		users := new(errgroup.Group)
		users.SetLimit(maxUserLoadWorkers)
		for id := range ownerIDs {
			users.Go(func() error {
				user, err := s.users.FindByID(groupCtx, id)
				if err != nil {
					if isRepositoryNotFound(err) {
						results <- ownerResult{id: id}
						return nil
					}
					return err
				}
				results <- ownerResult{id: id, user: &user}
				return nil
			})
		}
		group.Go(func() error {
			err := users.Wait()
			close(results)
			for result := range results {
				owners[result.id] = result.user
			}
			return err
		})
	}

	if err := group.Wait(); err != nil {
		return nil, s.mapRepositoryError(err)
	}

	loaded := make([]Order, len(orders))
	for i, order := range orders {
		ids := associations[order.ID]
		order.ProductIDs = ids
		order.Products = make([]Product, 0, len(ids))
		for _, id := range ids {
			if product, ok := products[id]; ok {
				order.Products = append(order.Products, product)
			}
		}
		if withOwners {
			order.User = owners[order.UserID]
		}
		loaded[i] = order
	}
	return loaded, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if isServiceError(err) {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s", ErrOrderConflict, conflictDetail(err))
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderPersistence, err)
}

// fail maps err onto the service's sentinel errors and logs failures that are not the caller's fault.
func (s *orderService) fail(ctx context.Context, event, orderID string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	mapped := s.mapRepositoryError(err)
	if errors.Is(mapped, ErrOrderPersistence) || errors.Is(mapped, ErrOrderUnavailable) || errors.Is(mapped, ErrOrderConflict) {
		s.logger(ctx, event, map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
	}
	return mapped
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
			"state": event.CurrentState,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// checkStateChange enforces forward-only movement. Cancelling is allowed until the order leaves
// the kitchen; delivered and cancelled orders never change state again.
func checkStateChange(current, target OrderState) error {
	switch {
	case target == current:
		return nil
	case target == domain.OrderStateCancelled:
		if !current.Cancellable() {
			return fmt.Errorf("%w: order is %s", ErrOrderNotCancellable, current)
		}
		return nil
	case current.Terminal():
		return fmt.Errorf("%w: order is %s", ErrOrderInvalidState, current)
	case !current.Precedes(target):
		return fmt.Errorf("%w: cannot move from %s to %s", ErrOrderInvalidState, current, target)
	}
	return nil
}

func isServiceError(err error) bool {
	for _, sentinel := range []error{
		ErrOrderInvalidInput,
		ErrOrderNotFound,
		ErrOrderForbidden,
		ErrOrderNotCancellable,
		ErrOrderInvalidState,
		ErrOrderConflict,
		ErrOrderUnavailable,
		ErrOrderPersistence,
		ErrProductNotFound,
		ErrCatalogInvalidInput,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func conflictDetail(err error) string {
	var detailed repositories.DetailedError
	if errors.As(err, &detailed) {
		if detail := strings.TrimSpace(detailed.Detail()); detail != "" {
			return detail
		}
	}
	return "conflicting write"
}

func normalizeAddress(raw string) (string, error) {
	address := textutil.SanitizePlainText(raw)
	if address == "" {
		return "", fmt.Errorf("%w: address is required", ErrOrderInvalidInput)
	}
	if textutil.RuneLength(address) > maxAddressLength {
		return "", fmt.Errorf("%w: address must be at most %d characters", ErrOrderInvalidInput, maxAddressLength)
	}
	return address, nil
}

// uniqueProductIDs trims ids, drops blanks and keeps the first occurrence of each id.
func uniqueProductIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

func normalizeToppings(toppings []Topping) ([]Topping, error) {
	if len(toppings) == 0 {
		return nil, nil
	}
	result := make([]Topping, 0, len(toppings))
	for i, topping := range toppings {
		topping.ProductID = strings.TrimSpace(topping.ProductID)
		topping.Topping = textutil.SanitizePlainText(topping.Topping)
		switch {
		case topping.ProductID == "":
			return nil, fmt.Errorf("%w: toppings[%d].productId is required", ErrOrderInvalidInput, i)
		case topping.Topping == "":
			return nil, fmt.Errorf("%w: toppings[%d].topping is required", ErrOrderInvalidInput, i)
		case topping.Quantity < 1:
			return nil, fmt.Errorf("%w: toppings[%d].quantity must be at least 1", ErrOrderInvalidInput, i)
		case topping.Price.IsNegative():
			return nil, fmt.Errorf("%w: toppings[%d].price must not be negative", ErrOrderInvalidInput, i)
		}
		result = append(result, topping)
	}
	return result, nil
}

func normalizeItems(items []LineItem) ([]LineItem, error) {
	if len(items) == 0 {
		return nil, nil
	}
	result := make([]LineItem, 0, len(items))
	for i, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: items[%d].productId is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: items[%d].quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		result = append(result, item)
	}
	return result, nil
}

func sumPrices(products []Product) decimal.Decimal {
	total := decimal.Zero
	for _, product := range products {
		total = total.Add(product.Price)
	}
	return total
}

func principalID(principal *Principal) string {
	if principal == nil {
		return ""
	}
	return principal.ID
}

func patchFieldNames(fields OrderPatchFields) []string {
	var names []string
	if fields.State {
		names = append(names, "state")
	}
	if fields.Address {
		names = append(names, "address")
	}
	if fields.ProductIDs {
		names = append(names, "productIds")
	}
	if fields.Toppings {
		names = append(names, "toppings")
	}
	if fields.Items {
		names = append(names, "items")
	}
	return names
}
