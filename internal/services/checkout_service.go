package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	domain "github.com/inkwell-books/api/internal/domain"
	"github.com/inkwell-books/api/internal/payments"
	"github.com/inkwell-books/api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutCartNotReady indicates the cart is empty or references missing books.
	ErrCheckoutCartNotReady = errors.New("checkout: cart not ready")
	// ErrCheckoutInsufficientStock indicates a cart line exceeds available stock.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts    repositories.CartRepository
	Books    repositories.BookRepository
	Payments checkoutSessionManager
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts    repositories.CartRepository
	books    repositories.BookRepository
	payments checkoutSessionManager
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Books == nil {
		return nil, errors.New("checkout service: book repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		carts:    deps.Carts,
		books:    deps.Books,
		payments: deps.Payments,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutSession prices the user's cart against the live catalog and
// opens a PSP session for it. Prices are the catalog's current prices; the
// order snapshot is taken later when the payment confirmation arrives.
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	successURL := strings.TrimSpace(cmd.SuccessURL)
	cancelURL := strings.TrimSpace(cmd.CancelURL)
	if successURL == "" || cancelURL == "" {
		return CheckoutSession{}, fmt.Errorf("%w: success and cancel URLs are required", ErrCheckoutInvalidInput)
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return CheckoutSession{}, s.translateCartError(err)
	}
	if len(cart.Items) == 0 {
		return CheckoutSession{}, ErrCheckoutCartNotReady
	}

	lineItems, total, currency, err := s.priceCart(ctx, cart)
	if err != nil {
		return CheckoutSession{}, err
	}

	metadata := map[string]string{
		"user_id": userID,
	}
	for k, v := range cmd.Metadata {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		metadata[k] = v
	}

	idempotencyKey := checkoutIdempotencyKey(userID, cart, total)

	session, err := s.payments.CreateCheckoutSession(ctx, payments.PaymentContext{
		Currency: currency,
		Metadata: maps.Clone(metadata),
	}, payments.CheckoutSessionRequest{
		Amount:         total,
		Currency:       currency,
		CustomerID:     userID,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		Locale:         strings.TrimSpace(cmd.Locale),
		Metadata:       metadata,
		IdempotencyKey: idempotencyKey,
		Items:          lineItems,
	})
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		s.logger(ctx, "checkout.payment_session_failed", map[string]any{
			"user":  userID,
			"total": total,
			"error": err.Error(),
		})
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}

	s.logger(ctx, "checkout.session.created", map[string]any{
		"user":    userID,
		"session": session.ID,
		"total":   total,
	})

	return CheckoutSession{
		SessionID:   session.ID,
		PSP:         session.Provider,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt.UTC(),
	}, nil
}

// priceCart resolves every cart line against the catalog. Missing books fail
// the checkout outright rather than silently shrinking the order.
func (s *checkoutService) priceCart(ctx context.Context, cart domain.Cart) ([]payments.CheckoutLineItem, int64, string, error) {
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.BookID)
	}

	books, err := s.books.FindByIDs(ctx, ids)
	if err != nil {
		return nil, 0, "", s.translateCartError(err)
	}

	lineItems := make([]payments.CheckoutLineItem, 0, len(cart.Items))
	var total int64
	currency := ""
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		book, ok := books[item.BookID]
		if !ok {
			return nil, 0, "", fmt.Errorf("%w: book %s is no longer available", ErrCheckoutCartNotReady, item.BookID)
		}
		if item.Quantity > book.Stock {
			return nil, 0, "", fmt.Errorf("%w: Insufficient stock for %s. Current stock: %d, required: %d",
				ErrCheckoutInsufficientStock, book.Title, book.Stock, item.Quantity)
		}
		if currency == "" {
			currency = strings.ToUpper(strings.TrimSpace(book.Currency))
		}
		lineItems = append(lineItems, payments.CheckoutLineItem{
			Name:        book.Title,
			Description: book.Author,
			SKU:         book.ID,
			Quantity:    int64(item.Quantity),
			Amount:      book.UnitPrice,
			Currency:    strings.ToUpper(strings.TrimSpace(book.Currency)),
		})
		total += book.UnitPrice * int64(item.Quantity)
	}

	if len(lineItems) == 0 || total <= 0 {
		return nil, 0, "", ErrCheckoutCartNotReady
	}
	if currency == "" {
		currency = "USD"
	}
	return lineItems, total, currency, nil
}

func (s *checkoutService) translateCartError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCheckoutCartNotReady
		case repoErr.IsUnavailable():
			return ErrCheckoutUnavailable
		}
	}
	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}

func checkoutIdempotencyKey(userID string, cart domain.Cart, total int64) string {
	base := fmt.Sprintf("%s|%s|%d", userID, cart.UpdatedAt.UTC().Format(time.RFC3339Nano), total)
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}
