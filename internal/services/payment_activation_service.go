package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	domain "github.com/restaurant-ordering/api/internal/domain"
)

// Metadata keys read from payment provider events.
const (
	PaymentMetadataOrderID    = "orderId"
	PaymentMetadataUserID     = "userId"
	PaymentMetadataEmail      = "email"
	PaymentMetadataProductIDs = "productIds"
	PaymentMetadataAddress    = "address"
)

// ErrPaymentInvalidMetadata indicates the event metadata names an order but is malformed.
var ErrPaymentInvalidMetadata = errors.New("payment activation: invalid metadata")

// PaymentActivationServiceDeps bundles collaborators of the payment activation service.
type PaymentActivationServiceDeps struct {
	Orders OrderService
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type paymentActivationService struct {
	orders OrderService
	logger func(context.Context, string, map[string]any)
}

var _ PaymentActivationService = (*paymentActivationService)(nil)

// NewPaymentActivationService constructs the service that reacts to confirmed payments.
func NewPaymentActivationService(deps PaymentActivationServiceDeps) (PaymentActivationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment activation service: order service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentActivationService{orders: deps.Orders, logger: logger}, nil
}

// HandlePaymentConfirmation activates the order named in the metadata. Without an order id but with
// products, owner and address, it places an already active order for that owner instead.
func (s *paymentActivationService) HandlePaymentConfirmation(ctx context.Context, cmd PaymentConfirmationCommand) (PaymentActivationResult, error) {
	metadata := cmd.Metadata
	fields := map[string]any{
		"provider":  cmd.Provider,
		"eventId":   cmd.EventID,
		"eventType": cmd.EventType,
	}

	if orderID := strings.TrimSpace(metadata[PaymentMetadataOrderID]); orderID != "" {
		order, err := s.orders.ActivateOrder(ctx, orderID)
		if err != nil {
			fields["order"] = orderID
			fields["error"] = err.Error()
			s.logger(ctx, "payment.activate.failed", fields)
			return PaymentActivationResult{}, err
		}
		fields["order"] = order.ID
		s.logger(ctx, "payment.order.activated", fields)
		return PaymentActivationResult{Outcome: PaymentActivationActivated, Order: &order}, nil
	}

	userID := strings.TrimSpace(metadata[PaymentMetadataUserID])
	address := strings.TrimSpace(metadata[PaymentMetadataAddress])
	rawProducts := strings.TrimSpace(metadata[PaymentMetadataProductIDs])
	if userID == "" || address == "" || rawProducts == "" {
		s.logger(ctx, "payment.event.ignored", fields)
		return PaymentActivationResult{Outcome: PaymentActivationIgnored}, nil
	}

	productIDs, err := parseProductIDs(rawProducts)
	if err != nil {
		return PaymentActivationResult{}, err
	}

	orderID := paymentOrderID(cmd)
	order, err := s.orders.Create(ctx, CreateOrderCommand{
		OrderID:    orderID,
		ProductIDs: productIDs,
		Address:    address,
		Active:     true,
		Principal: &Principal{
			ID:    userID,
			Email: strings.TrimSpace(metadata[PaymentMetadataEmail]),
			Roles: []string{domain.RoleCustomer},
		},
	})
	if err != nil && orderID != "" && errors.Is(err, ErrOrderConflict) {
		existing, findErr := s.orders.FindOne(ctx, orderID, nil)
		if findErr == nil && existing.UserID == userID {
			fields["order"] = existing.ID
			s.logger(ctx, "payment.order.duplicate", fields)
			return PaymentActivationResult{Outcome: PaymentActivationCreated, Order: &existing}, nil
		}
	}
	if err != nil {
		fields["user"] = userID
		fields["error"] = err.Error()
		s.logger(ctx, "payment.order.create.failed", fields)
		return PaymentActivationResult{}, err
	}
	fields["order"] = order.ID
	s.logger(ctx, "payment.order.created", fields)
	return PaymentActivationResult{Outcome: PaymentActivationCreated, Order: &order}, nil
}

// paymentOrderID derives the id of an order placed from a payment, so redelivered events and the
// session and intent events of one checkout all name the same order. Empty without a payment or
// event id.
func paymentOrderID(cmd PaymentConfirmationCommand) string {
	key := strings.TrimSpace(cmd.PaymentID)
	if key == "" {
		key = strings.TrimSpace(cmd.EventID)
	}
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(cmd.Provider) + ":" + key))
	return orderIDPrefix + strings.ToUpper(hex.EncodeToString(sum[:13]))
}

// parseProductIDs accepts a JSON array of strings or a comma separated list.
func parseProductIDs(raw string) ([]string, error) {
	if strings.HasPrefix(raw, "[") {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, fmt.Errorf("%w: productIds: %v", ErrPaymentInvalidMetadata, err)
		}
		return ids, nil
	}
	return strings.Split(raw, ","), nil
}
