package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/inkwell-books/api/internal/domain"
	"github.com/inkwell-books/api/internal/payments"
	"github.com/inkwell-books/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix = "ord_"

	deliverJobPrefix = "deliver_order_"
	delayJobPrefix   = "delay_order_"

	defaultFulfillmentDelay = 10 * time.Second
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order is not in a status that allows the operation.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates a concurrent transition won the compare-and-swap.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderInsufficientStock indicates a transition would drive stock below zero.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderDuplicatePayment indicates the provider transaction was already processed.
	ErrOrderDuplicatePayment = errors.New("order: duplicate payment")
	// ErrOrderEmptyCart indicates payment completion found nothing to order.
	ErrOrderEmptyCart = errors.New("order: empty cart")
	// ErrOrderRefundFailed indicates the PSP rejected or failed the refund call.
	ErrOrderRefundFailed = errors.New("order: refund failed")
)

// orderPaymentProcessor is the slice of payments.Manager the order service
// needs: refunds when an operator moves an order to refunded, and intent
// lookups to reconcile webhook payloads that arrive without a charge amount.
type orderPaymentProcessor interface {
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders           repositories.OrderRepository
	Counters         repositories.CounterRepository
	Payments         orderPaymentProcessor
	Scheduler        FulfillmentScheduler
	Events           OrderEventPublisher
	FulfillmentDelay time.Duration
	Clock            func() time.Time
	IDGenerator      func() string
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	counters  repositories.CounterRepository
	payments  orderPaymentProcessor
	scheduler FulfillmentScheduler
	events    OrderEventPublisher
	delay     time.Duration
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	delay := deps.FulfillmentDelay
	if delay <= 0 {
		delay = defaultFulfillmentDelay
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
		orders:    deps.Orders,
		counters:  deps.Counters,
		payments:  deps.Payments,
		scheduler: deps.Scheduler,
		events:    deps.Events,
		delay:     delay,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CompletePayment turns the user's cart into an order after the PSP confirmed
// the charge. The repository performs the cart snapshot, stock decrement,
// payment record, and cart deletion atomically; a replayed transaction ID
// surfaces as ErrOrderDuplicatePayment without mutating anything.
func (s *orderService) CompletePayment(ctx context.Context, cmd PaymentCompletedCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	txID := strings.TrimSpace(cmd.TransactionID)
	if txID == "" {
		return Order{}, fmt.Errorf("%w: transaction id is required", ErrOrderInvalidInput)
	}
	if cmd.Amount < 0 {
		return Order{}, fmt.Errorf("%w: amount must not be negative", ErrOrderInvalidInput)
	}

	// Redelivered webhooks are caught here before a sequence number is
	// allocated, so replays never burn order numbers. The tx.Create on the
	// payment document inside CreateFromCheckout still closes the race
	// between two concurrent deliveries of the same event.
	if existing, err := s.orders.FindByTransactionID(ctx, txID); err == nil {
		s.logger(ctx, "order.payment.replayed", map[string]any{
			"transaction": txID,
			"order":       existing.ID,
		})
		return Order{}, fmt.Errorf("%w: transaction %s already recorded as order %s", ErrOrderDuplicatePayment, txID, existing.ID)
	} else if !errors.Is(s.mapRepositoryError(err), ErrOrderNotFound) {
		return Order{}, s.mapRepositoryError(err)
	}

	amount := cmd.Amount
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if amount == 0 && s.payments != nil {
		// Some PSP events omit the charge amount. Reconcile against the
		// payment intent; a failed lookup falls back to the event payload.
		details, err := s.payments.LookupPayment(ctx, payments.PaymentContext{Currency: currency}, payments.LookupRequest{IntentID: txID})
		if err != nil {
			s.logger(ctx, "order.payment.lookup.failed", map[string]any{
				"transaction": txID,
				"error":       err.Error(),
			})
		} else {
			amount = details.Amount
			if details.Currency != "" {
				currency = strings.ToUpper(strings.TrimSpace(details.Currency))
			}
		}
	}

	method := strings.TrimSpace(cmd.Method)
	if method == "" {
		method = "card"
	}
	if currency == "" {
		currency = "USD"
	}

	now := s.now()

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order, err := s.orders.CreateFromCheckout(ctx, repositories.CheckoutCompletion{
		OrderID:       s.nextOrderID(),
		OrderNumber:   number,
		UserID:        userID,
		TransactionID: txID,
		Method:        method,
		Amount:        amount,
		Currency:      currency,
		Now:           now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.created", map[string]any{
		"order":    order.ID,
		"number":   order.OrderNumber,
		"user":     order.UserID,
		"fastOnly": order.FastOnly,
		"total":    order.TotalAmount,
	})

	s.scheduleFulfillment(ctx, order)

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		FastOnly:    order.FastOnly,
		OccurredAt:  now,
	})

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, query OrderReadQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	// Customers only ever see their own orders; leaking existence of other
	// orders is avoided by answering not-found rather than forbidden.
	if !query.AsAdmin && order.UserID != strings.TrimSpace(query.UserID) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	return order, nil
}

// SubmitDecision records the customer's accept or decline on a delayed order.
// Accept delivers the order; decline cancels it and restores stock.
func (s *orderService) SubmitDecision(ctx context.Context, cmd OrderDecisionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	var target domain.OrderStatus
	switch strings.TrimSpace(cmd.Decision) {
	case OrderDecisionAccept:
		target = domain.OrderStatusDelivered
	case OrderDecisionDecline:
		target = domain.OrderStatusCancelled
	default:
		return Order{}, fmt.Errorf("%w: decision must be %q or %q", ErrOrderInvalidInput, OrderDecisionAccept, OrderDecisionDecline)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.UserID != userID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if order.Status != domain.OrderStatusDelayed {
		return Order{}, fmt.Errorf("%w: decisions apply to delayed orders only, order is %s", ErrOrderInvalidState, order.Status)
	}

	expected := domain.OrderStatusDelayed
	updated, err := s.orders.ApplyTransition(ctx, repositories.OrderTransition{
		OrderID:        orderID,
		Target:         target,
		ExpectedStatus: &expected,
		Now:            s.now(),
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.cancelFulfillmentJobs(orderID)

	s.logger(ctx, "order.decision.recorded", map[string]any{
		"order":    updated.ID,
		"decision": cmd.Decision,
		"status":   string(updated.Status),
	})

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventStatusChanged,
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		UserID:      updated.UserID,
		Status:      string(updated.Status),
		FastOnly:    updated.FastOnly,
		Actor:       userID,
		OccurredAt:  s.now(),
	})

	return updated, nil
}

// OverrideStatus lets operators move an order to any known status. Inventory
// side effects ride along inside the repository transaction, so overriding a
// cancelled order back to an active status re-decrements its stock or fails.
func (s *orderService) OverrideStatus(ctx context.Context, cmd OrderStatusOverrideCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	target, ok := domain.ParseOrderStatus(strings.TrimSpace(cmd.TargetStatus))
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	var expected *domain.OrderStatus
	if cmd.ExpectedStatus != nil {
		parsed, ok := domain.ParseOrderStatus(strings.TrimSpace(*cmd.ExpectedStatus))
		if !ok {
			return Order{}, fmt.Errorf("%w: unknown expected status %q", ErrOrderInvalidInput, *cmd.ExpectedStatus)
		}
		expected = &parsed
	}

	if target == domain.OrderStatusRefunded && s.payments != nil {
		if err := s.refundPayment(ctx, orderID); err != nil {
			return Order{}, err
		}
	}

	updated, err := s.orders.ApplyTransition(ctx, repositories.OrderTransition{
		OrderID:        orderID,
		Target:         target,
		ExpectedStatus: expected,
		Now:            s.now(),
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	// Once an operator moves the order anywhere but in_progress, the pending
	// fulfillment job must not fire behind their back.
	if target != domain.OrderStatusInProgress {
		s.cancelFulfillmentJobs(orderID)
	}

	s.logger(ctx, "order.status.overridden", map[string]any{
		"order":  updated.ID,
		"status": string(updated.Status),
		"actor":  cmd.ActorID,
		"reason": cmd.Reason,
	})

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventStatusChanged,
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		UserID:      updated.UserID,
		Status:      string(updated.Status),
		FastOnly:    updated.FastOnly,
		Actor:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:  s.now(),
	})

	return updated, nil
}

// refundPayment pushes the refund to the PSP before the order is marked
// refunded, so the refunded status never gets ahead of the money. Orders
// already refunded, and orders without a payment reference, are skipped.
// The idempotency key is derived from the order ID, which makes a retried
// override safe even when the earlier attempt refunded and then lost the
// status write to a concurrent transition.
func (s *orderService) refundPayment(ctx context.Context, orderID string) error {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if order.Status == domain.OrderStatusRefunded {
		return nil
	}
	ref := strings.TrimSpace(order.PaymentRef)
	if ref == "" {
		return nil
	}

	details, err := s.payments.Refund(ctx, payments.PaymentContext{Currency: order.Currency}, payments.RefundRequest{
		IntentID:       ref,
		Reason:         "requested_by_customer",
		IdempotencyKey: "refund_" + order.ID,
	})
	if err != nil {
		s.logger(ctx, "order.refund.failed", map[string]any{
			"order":       order.ID,
			"transaction": ref,
			"error":       err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrOrderRefundFailed, err)
	}

	s.logger(ctx, "order.refund.issued", map[string]any{
		"order":       order.ID,
		"transaction": ref,
		"status":      string(details.Status),
	})
	return nil
}

// scheduleFulfillment queues the single follow-up job every new order gets:
// fiction-only orders deliver, mixed orders park in delayed awaiting the
// customer's decision.
func (s *orderService) scheduleFulfillment(ctx context.Context, order Order) {
	if s.scheduler == nil {
		return
	}

	key := delayJobPrefix + order.ID
	target := domain.OrderStatusDelayed
	if order.FastOnly {
		key = deliverJobPrefix + order.ID
		target = domain.OrderStatusDelivered
	}

	runAt := s.now().Add(s.delay)
	if err := s.scheduler.Schedule(key, runAt, func(jobCtx context.Context) {
		s.finalizeFulfillment(jobCtx, order.ID, target)
	}); err != nil {
		s.logger(ctx, "order.fulfillment.schedule.failed", map[string]any{
			"order": order.ID,
			"key":   key,
			"error": err.Error(),
		})
	}
}

// finalizeFulfillment runs when the scheduled job fires. The transition is
// conditional on the order still being in_progress; if an operator or a
// customer decision beat the job to it, the job quietly stands down.
func (s *orderService) finalizeFulfillment(ctx context.Context, orderID string, target domain.OrderStatus) {
	expected := domain.OrderStatusInProgress
	updated, err := s.orders.ApplyTransition(ctx, repositories.OrderTransition{
		OrderID:        orderID,
		Target:         target,
		ExpectedStatus: &expected,
		Now:            s.now(),
	})
	if err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrOrderConflict) || errors.Is(mapped, ErrOrderNotFound) {
			s.logger(ctx, "order.fulfillment.skipped", map[string]any{
				"order":  orderID,
				"target": string(target),
				"error":  err.Error(),
			})
			return
		}
		s.logger(ctx, "order.fulfillment.failed", map[string]any{
			"order":  orderID,
			"target": string(target),
			"error":  err.Error(),
		})
		return
	}

	s.logger(ctx, "order.fulfillment.applied", map[string]any{
		"order":  updated.ID,
		"status": string(updated.Status),
	})

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventStatusChanged,
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		UserID:      updated.UserID,
		Status:      string(updated.Status),
		FastOnly:    updated.FastOnly,
		Actor:       "system",
		OccurredAt:  s.now(),
	})
}

func (s *orderService) cancelFulfillmentJobs(orderID string) {
	if s.scheduler == nil {
		return
	}
	s.scheduler.Cancel(deliverJobPrefix + orderID)
	s.scheduler.Cancel(delayJobPrefix + orderID)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repositories.OrderErrorStatusConflict:
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repositories.OrderErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrOrderInsufficientStock, orderErr.Message)
		case repositories.OrderErrorDuplicatePayment:
			return fmt.Errorf("%w: %v", ErrOrderDuplicatePayment, err)
		case repositories.OrderErrorEmptyCart:
			return fmt.Errorf("%w: %v", ErrOrderEmptyCart, err)
		case repositories.OrderErrorBookNotFound:
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("IW-%04d-%06d", now.Year(), seq), nil
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
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"status": event.Status,
			"error":  err.Error(),
		})
	}
}
