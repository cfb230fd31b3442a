package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/platform/textutil"
	"github.com/restaurant-ordering/api/internal/repositories"
)

const (
	toppingIDPrefix        = "top_"
	productToppingIDPrefix = "ptp_"
	minToppingNameLength   = 3
	maxToppingNameLength   = 60
	minToppingAmount       = 1
	maxToppingAmount       = 10
)

var (
	// ErrToppingInvalidInput indicates the caller supplied invalid data to a topping operation.
	ErrToppingInvalidInput = errors.New("topping service: invalid input")
	// ErrToppingNotFound indicates a topping is unknown, or inactive where only active toppings qualify.
	ErrToppingNotFound = errors.New("topping service: topping not found")
	// ErrProductToppingNotFound indicates the product topping link does not exist.
	ErrProductToppingNotFound = errors.New("topping service: product topping not found")
	// ErrToppingConflict indicates a duplicate topping name or product topping pair.
	ErrToppingConflict = errors.New("topping service: conflict")
	// ErrToppingUnavailable indicates the topping store could not be reached.
	ErrToppingUnavailable = errors.New("topping service: store unavailable")
)

// ToppingServiceDeps bundles constructor inputs for the topping service.
type ToppingServiceDeps struct {
	Toppings        repositories.ToppingRepository
	ProductToppings repositories.ProductToppingRepository
	Products        repositories.ProductRepository
	UnitOfWork      repositories.UnitOfWork
	Clock           func() time.Time
	IDGenerator     func() string
}

type toppingService struct {
	toppings        repositories.ToppingRepository
	productToppings repositories.ProductToppingRepository
	products        repositories.ProductRepository
	unitOfWork      repositories.UnitOfWork
	clock           func() time.Time
	newID           func() string
}

var _ ToppingService = (*toppingService)(nil)

// NewToppingService constructs the topping service with the supplied dependencies.
func NewToppingService(deps ToppingServiceDeps) (ToppingService, error) {
	if deps.Toppings == nil {
		return nil, errors.New("topping service: topping repository is required")
	}
	if deps.ProductToppings == nil {
		return nil, errors.New("topping service: product topping repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("topping service: product repository is required")
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
		idGen = func() string { return ulid.Make().String() }
	}
	return &toppingService{
		toppings:        deps.Toppings,
		productToppings: deps.ProductToppings,
		products:        deps.Products,
		unitOfWork:      unit,
		clock:           func() time.Time { return clock().UTC() },
		newID:           idGen,
	}, nil
}

func (s *toppingService) ListToppings(ctx context.Context, filter ToppingListFilter) (domain.OffsetPage[MenuTopping], error) {
	page, err := s.toppings.List(ctx, repositories.ToppingListFilter{
		ActiveOnly: !filter.IncludeInactive,
		Pagination: filter.Pagination.Normalize(),
	})
	if err != nil {
		return domain.OffsetPage[MenuTopping]{}, mapToppingError(err)
	}
	return page, nil
}

func (s *toppingService) GetTopping(ctx context.Context, name string) (MenuTopping, error) {
	topping, err := s.findByName(ctx, name)
	if err != nil {
		return MenuTopping{}, err
	}
	if !topping.IsActive {
		return MenuTopping{}, fmt.Errorf("%w: %s", ErrToppingNotFound, topping.Name)
	}
	return topping, nil
}

func (s *toppingService) CreateTopping(ctx context.Context, cmd UpsertToppingCommand) (MenuTopping, error) {
	if cmd.Price == nil || cmd.MaximumAmount == nil {
		return MenuTopping{}, fmt.Errorf("%w: name, price and maximumAmount are required", ErrToppingInvalidInput)
	}
	name := cmd.Name

	now := s.clock()
	topping := MenuTopping{
		ID:        toppingIDPrefix + s.newID(),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := applyToppingFields(&topping, UpsertToppingCommand{
		NewName:       &name,
		Price:         cmd.Price,
		MaximumAmount: cmd.MaximumAmount,
		IsActive:      cmd.IsActive,
	}); err != nil {
		return MenuTopping{}, err
	}

	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.ensureNameFree(txCtx, topping.Name, ""); err != nil {
			return err
		}
		return s.toppings.Insert(txCtx, topping)
	})
	if err != nil {
		return MenuTopping{}, mapToppingError(err)
	}
	return topping, nil
}

// UpdateTopping patches the topping called cmd.Name. Inactive toppings can be updated so they can
// be reactivated.
func (s *toppingService) UpdateTopping(ctx context.Context, cmd UpsertToppingCommand) (MenuTopping, error) {
	if cmd.NewName == nil && cmd.Price == nil && cmd.MaximumAmount == nil && cmd.IsActive == nil {
		return MenuTopping{}, fmt.Errorf("%w: at least one field is required", ErrToppingInvalidInput)
	}

	var updated MenuTopping
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		topping, err := s.findByName(txCtx, cmd.Name)
		if err != nil {
			return err
		}
		previousName := topping.Name
		if err := applyToppingFields(&topping, cmd); err != nil {
			return err
		}
		if topping.Name != previousName {
			if err := s.ensureNameFree(txCtx, topping.Name, topping.ID); err != nil {
				return err
			}
		}
		topping.UpdatedAt = s.clock()
		if err := s.toppings.Update(txCtx, topping); err != nil {
			return err
		}
		updated = topping
		return nil
	})
	if err != nil {
		return MenuTopping{}, mapToppingError(err)
	}
	return updated, nil
}

// DeactivateTopping hides a topping. Products keep their links to it.
func (s *toppingService) DeactivateTopping(ctx context.Context, name string) (MenuTopping, error) {
	inactive := false
	return s.UpdateTopping(ctx, UpsertToppingCommand{Name: name, IsActive: &inactive})
}

func (s *toppingService) AttachTopping(ctx context.Context, cmd AttachToppingCommand) (ProductTopping, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	toppingID := strings.TrimSpace(cmd.ToppingID)
	if productID == "" || toppingID == "" {
		return ProductTopping{}, fmt.Errorf("%w: product id and topping id are required", ErrToppingInvalidInput)
	}
	if cmd.Quantity < minToppingAmount {
		return ProductTopping{}, fmt.Errorf("%w: quantity must be at least %d", ErrToppingInvalidInput, minToppingAmount)
	}

	link := ProductTopping{
		ID:        productToppingIDPrefix + s.newID(),
		ProductID: productID,
		ToppingID: toppingID,
		Quantity:  cmd.Quantity,
		CreatedAt: s.clock(),
	}
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.activeProduct(txCtx, productID); err != nil {
			return err
		}
		topping, err := s.toppings.FindByID(txCtx, toppingID)
		if err != nil {
			return err
		}
		if !topping.IsActive {
			return fmt.Errorf("%w: %s", ErrToppingNotFound, toppingID)
		}
		if cmd.Quantity > topping.MaximumAmount {
			return fmt.Errorf("%w: quantity %d exceeds the maximum amount %d of %s",
				ErrToppingInvalidInput, cmd.Quantity, topping.MaximumAmount, topping.Name)
		}
		_, err = s.productToppings.FindByPair(txCtx, productID, toppingID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: product already has topping %s", ErrToppingConflict, topping.Name)
		case !isRepositoryNotFound(err):
			return err
		}
		if err := s.productToppings.Insert(txCtx, link); err != nil {
			return err
		}
		link.Topping = &topping
		return nil
	})
	if err != nil {
		return ProductTopping{}, mapToppingError(err)
	}
	return link, nil
}

func (s *toppingService) DetachTopping(ctx context.Context, linkID string) error {
	linkID = strings.TrimSpace(linkID)
	if linkID == "" {
		return fmt.Errorf("%w: product topping id is required", ErrToppingInvalidInput)
	}
	if err := s.productToppings.Delete(ctx, linkID); err != nil {
		if isRepositoryNotFound(err) {
			return fmt.Errorf("%w: %s", ErrProductToppingNotFound, linkID)
		}
		return mapToppingError(err)
	}
	return nil
}

// ListProductToppings returns the active toppings offered on an active product, oldest link first.
func (s *toppingService) ListProductToppings(ctx context.Context, productID string) ([]ProductTopping, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrToppingInvalidInput)
	}
	if _, err := s.activeProduct(ctx, productID); err != nil {
		return nil, mapToppingError(err)
	}
	links, err := s.productToppings.ListByProduct(ctx, productID)
	if err != nil {
		return nil, mapToppingError(err)
	}
	if len(links) == 0 {
		return []ProductTopping{}, nil
	}

	ids := make([]string, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.ToppingID)
	}
	toppings, err := s.toppings.FindByIDs(ctx, ids)
	if err != nil {
		return nil, mapToppingError(err)
	}
	byID := make(map[string]MenuTopping, len(toppings))
	for _, topping := range toppings {
		byID[topping.ID] = topping
	}

	result := make([]ProductTopping, 0, len(links))
	for _, link := range links {
		topping, ok := byID[link.ToppingID]
		if !ok || !topping.IsActive {
			continue
		}
		link.Topping = &topping
		result = append(result, link)
	}
	return result, nil
}

func (s *toppingService) findByName(ctx context.Context, name string) (MenuTopping, error) {
	name = textutil.SanitizePlainText(name)
	if name == "" {
		return MenuTopping{}, fmt.Errorf("%w: topping name is required", ErrToppingInvalidInput)
	}
	topping, err := s.toppings.FindByName(ctx, name)
	if err != nil {
		if isRepositoryNotFound(err) {
			return MenuTopping{}, fmt.Errorf("%w: %s", ErrToppingNotFound, name)
		}
		return MenuTopping{}, err
	}
	return topping, nil
}

// ensureNameFree fails with a conflict when another topping than exceptID carries name.
func (s *toppingService) ensureNameFree(ctx context.Context, name, exceptID string) error {
	existing, err := s.toppings.FindByName(ctx, name)
	switch {
	case err == nil && existing.ID != exceptID:
		return fmt.Errorf("%w: topping %q already exists", ErrToppingConflict, name)
	case err != nil && !isRepositoryNotFound(err):
		return err
	}
	return nil
}

func (s *toppingService) activeProduct(ctx context.Context, productID string) (Product, error) {
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return Product{}, err
	}
	if !product.IsActive {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return product, nil
}

func applyToppingFields(topping *MenuTopping, cmd UpsertToppingCommand) error {
	if cmd.NewName != nil {
		name := textutil.SanitizePlainText(*cmd.NewName)
		length := textutil.RuneLength(name)
		if length < minToppingNameLength || length > maxToppingNameLength {
			return fmt.Errorf("%w: name must be between %d and %d characters",
				ErrToppingInvalidInput, minToppingNameLength, maxToppingNameLength)
		}
		topping.Name = name
	}
	if cmd.Price != nil {
		price := *cmd.Price
		if !price.IsPositive() {
			return fmt.Errorf("%w: price must be positive", ErrToppingInvalidInput)
		}
		if !price.Equal(price.Round(productPriceScaleDigits)) {
			return fmt.Errorf("%w: price must have at most %d decimal places", ErrToppingInvalidInput, productPriceScaleDigits)
		}
		topping.Price = price.Round(productPriceScaleDigits)
	}
	if cmd.MaximumAmount != nil {
		amount := *cmd.MaximumAmount
		if amount < minToppingAmount || amount > maxToppingAmount {
			return fmt.Errorf("%w: maximumAmount must be between %d and %d",
				ErrToppingInvalidInput, minToppingAmount, maxToppingAmount)
		}
		topping.MaximumAmount = amount
	}
	if cmd.IsActive != nil {
		topping.IsActive = *cmd.IsActive
	}
	return nil
}

func mapToppingError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		ErrToppingInvalidInput,
		ErrToppingNotFound,
		ErrProductToppingNotFound,
		ErrToppingConflict,
		ErrToppingUnavailable,
		ErrProductNotFound,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrToppingNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s", ErrToppingConflict, conflictDetail(err))
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrToppingUnavailable, err)
		}
	}
	return err
}
