package services

import (
	"context"
	"time"

	domain "github.com/inkwell-books/api/internal/domain"
	"github.com/inkwell-books/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Book               = domain.Book
	Genre              = domain.Genre
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	CheckoutSession    = domain.CheckoutSession
	Order              = domain.Order
	OrderLineItem      = domain.OrderLineItem
	OrderStatus        = domain.OrderStatus
	StockEffect        = domain.StockEffect
	Payment            = domain.Payment
	SystemHealthReport = domain.SystemHealthReport
)

// CatalogService manages the public book listing and admin catalog maintenance.
type CatalogService interface {
	ListBooks(ctx context.Context, filter BookListFilter) (domain.CursorPage[Book], error)
	GetBook(ctx context.Context, bookID string) (Book, error)
	CreateBook(ctx context.Context, cmd UpsertBookCommand) (Book, error)
	UpdateBook(ctx context.Context, cmd UpsertBookCommand) (Book, error)
	DeleteBook(ctx context.Context, cmd DeleteBookCommand) error
}

// CartService manages mutable cart state while enforcing stock ceilings.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// CheckoutService coordinates PSP session creation for the current cart.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error)
}

// OrderService encapsulates order creation from confirmed payments, the
// fulfillment lifecycle, and customer decisions on delayed orders.
type OrderService interface {
	CompletePayment(ctx context.Context, cmd PaymentCompletedCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, query OrderReadQuery) (Order, error)
	SubmitDecision(ctx context.Context, cmd OrderDecisionCommand) (Order, error)
	OverrideStatus(ctx context.Context, cmd OrderStatusOverrideCommand) (Order, error)
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// FulfillmentScheduler runs a callback once at a future time, keyed so the job
// can be cancelled when the order leaves the fulfillment pipeline early.
type FulfillmentScheduler interface {
	Schedule(key string, runAt time.Time, fn func(ctx context.Context)) error
	Cancel(key string) bool
}

// OrderEventPublisher accepts order lifecycle notifications for downstream processing.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent is the payload published on order lifecycle changes.
type OrderEvent struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber,omitempty"`
	UserID      string    `json:"userId"`
	Status      string    `json:"status"`
	FastOnly    bool      `json:"fastOnly"`
	Actor       string    `json:"actor,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Command and DTO definitions ------------------------------------------------

type BookListFilter struct {
	Genre  *Genre
	Search string
	Pagination
}

type UpsertBookCommand struct {
	BookID      string
	Title       string
	Author      string
	Description string
	ImageURL    string
	Genre       string
	UnitPrice   int64
	Currency    string
	Stock       int
	ActorID     string
}

type DeleteBookCommand struct {
	BookID  string
	ActorID string
}

type AddCartItemCommand struct {
	UserID   string
	BookID   string
	Quantity int
}

type UpdateCartItemCommand struct {
	UserID   string
	BookID   string
	Quantity int
}

type RemoveCartItemCommand struct {
	UserID string
	BookID string
}

type CreateCheckoutSessionCommand struct {
	UserID     string
	SuccessURL string
	CancelURL  string
	Locale     string
	Metadata   map[string]string
}

// PaymentCompletedCommand carries the verified PSP confirmation that turns a
// cart into an order.
type PaymentCompletedCommand struct {
	UserID        string
	TransactionID string
	Method        string
	Amount        int64
	Currency      string
}

type OrderListFilter = repositories.OrderListFilter

type OrderReadQuery struct {
	OrderID string
	UserID  string
	AsAdmin bool
}

// OrderDecisionCommand records the customer's choice on a delayed order.
type OrderDecisionCommand struct {
	OrderID  string
	UserID   string
	Decision string
}

// OrderStatusOverrideCommand lets operators move an order to any known status.
type OrderStatusOverrideCommand struct {
	OrderID        string
	TargetStatus   string
	ActorID        string
	Reason         string
	ExpectedStatus *string
}

const (
	// OrderDecisionAccept keeps a delayed order alive and delivers it.
	OrderDecisionAccept = "accept"
	// OrderDecisionDecline cancels a delayed order and restores its stock.
	OrderDecisionDecline = "decline"
)
