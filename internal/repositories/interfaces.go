package repositories

import (
	"context"
	"time"

	domain "github.com/inkwell-books/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Books() BookRepository
	Carts() CartRepository
	Orders() OrderRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// BookRepository persists catalog books and their stock counts.
type BookRepository interface {
	Insert(ctx context.Context, book domain.Book) error
	Update(ctx context.Context, book domain.Book) error
	// Delete removes a book unless any order references it, in which case a
	// CatalogError with CatalogErrorBookInUse is returned.
	Delete(ctx context.Context, bookID string) error
	FindByID(ctx context.Context, bookID string) (domain.Book, error)
	FindByIDs(ctx context.Context, bookIDs []string) (map[string]domain.Book, error)
	List(ctx context.Context, filter BookListFilter) (domain.CursorPage[domain.Book], error)
}

// BookListFilter controls catalog listing queries.
type BookListFilter struct {
	Genre      *domain.Genre
	Search     string
	Pagination domain.Pagination
}

// CartRepository owns the per-user cart document.
type CartRepository interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Delete(ctx context.Context, userID string) error
}

// CheckoutCompletion carries everything the order repository needs to turn a
// paid checkout session into an order aggregate in one transaction.
type CheckoutCompletion struct {
	OrderID       string
	OrderNumber   string
	UserID        string
	TransactionID string
	Method        string
	Amount        int64
	Currency      string
	Now           time.Time
}

// OrderTransition describes a conditional status change. When ExpectedStatus
// is set the repository must verify the stored status matches inside the same
// transaction that writes the new one, rejecting with OrderErrorStatusConflict
// otherwise.
type OrderTransition struct {
	OrderID        string
	Target         domain.OrderStatus
	ExpectedStatus *domain.OrderStatus
	Now            time.Time
}

// OrderRepository persists order aggregates. Both mutating operations are
// transactional: a reader never observes an order without its payment, a
// stock decrement without its order, or a status change without its
// inventory side effect.
type OrderRepository interface {
	// CreateFromCheckout snapshots the user's cart into a new order, records
	// the payment keyed by provider transaction ID, decrements stock for
	// every line, and deletes the cart, all in one transaction. A duplicate
	// transaction ID yields OrderErrorDuplicatePayment; an empty or missing
	// cart yields OrderErrorEmptyCart. Neither mutates anything.
	CreateFromCheckout(ctx context.Context, req CheckoutCompletion) (domain.Order, error)

	// ApplyTransition performs the compare-and-swap status update together
	// with the inventory effect dictated by domain.TransitionStockEffect.
	// A re-decrement that would drive any book negative fails the whole
	// transition with OrderErrorInsufficientStock and changes nothing.
	ApplyTransition(ctx context.Context, req OrderTransition) (domain.Order, error)

	FindByID(ctx context.Context, orderID string) (domain.Order, error)

	// FindByTransactionID resolves the order recorded for a provider
	// transaction, or OrderErrorNotFound when no payment with that ID has
	// been processed. Lets callers detect webhook redelivery before doing
	// any work of their own.
	FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error)

	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)

	// ExistsWithBook reports whether any order line references the book.
	ExistsWithBook(ctx context.Context, bookID string) (bool, error)
}

// OrderListFilter narrows order listings for customer and admin surfaces.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
