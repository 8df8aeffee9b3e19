package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// Genre enumerates the catalog genres a book may carry.
type Genre string

const (
	// GenreFiction marks fiction titles; fiction-only orders qualify for fast fulfillment.
	GenreFiction Genre = "fiction"
	// GenreNonFiction marks non-fiction titles.
	GenreNonFiction Genre = "non_fiction"
	// GenrePhilosophy marks philosophy titles.
	GenrePhilosophy Genre = "philosophy"
	// GenreMystery marks mystery titles.
	GenreMystery Genre = "mystery"
	// GenreRomance marks romance titles.
	GenreRomance Genre = "romance"
	// GenreScience marks science titles.
	GenreScience Genre = "science"
	// GenreBiography marks biography titles.
	GenreBiography Genre = "biography"
	// GenreOther is the catch-all genre.
	GenreOther Genre = "other"
)

// Genres lists every recognized genre in display order.
var Genres = []Genre{
	GenreFiction,
	GenreNonFiction,
	GenrePhilosophy,
	GenreMystery,
	GenreRomance,
	GenreScience,
	GenreBiography,
	GenreOther,
}

// ParseGenre validates a raw genre string against the known set.
func ParseGenre(raw string) (Genre, bool) {
	for _, g := range Genres {
		if string(g) == raw {
			return g, true
		}
	}
	return "", false
}

// Book is the inventory unit of the catalog. Stock never goes negative.
type Book struct {
	ID          string
	Title       string
	Author      string
	Description string
	ImageURL    string
	Genre       Genre
	UnitPrice   int64
	Currency    string
	Stock       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Cart aggregates the mutable shopping cart state for a user. The cart
// document is keyed by user and deleted once an order is created from it.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// CartItem stores a single book entry within a cart.
type CartItem struct {
	BookID   string
	Quantity int
	AddedAt  time.Time
}

// TotalQuantity sums item quantities for badge counters.
func (c Cart) TotalQuantity() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

// CheckoutSession represents PSP checkout session metadata returned to clients.
type CheckoutSession struct {
	SessionID   string
	PSP         string
	RedirectURL string
	ExpiresAt   time.Time
}

// Order captures the order aggregate created from a paid checkout session.
// TotalAmount and the line item prices are snapshots taken at creation and
// never recomputed. FastOnly is computed once at creation from the genres of
// every line item and only read afterwards.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string
	Status      OrderStatus
	Currency    string
	TotalAmount int64
	FastOnly    bool
	Items       []OrderLineItem
	PaymentRef  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
	RefundedAt  *time.Time
}

// OrderLineItem mirrors a cart item at the time of checkout.
type OrderLineItem struct {
	BookID    string
	Title     string
	Quantity  int
	UnitPrice int64
}

// Payment records the provider transaction that created an order. The
// provider transaction ID doubles as the storage key so a redelivered
// payment event can never create a second order.
type Payment struct {
	TransactionID string
	OrderID       string
	Method        string
	Status        string
	Amount        int64
	Currency      string
	CreatedAt     time.Time
}

const (
	// PaymentStatusCompleted indicates the provider confirmed the charge.
	PaymentStatusCompleted = "completed"
	// PaymentStatusRefunded indicates the charge was returned to the customer.
	PaymentStatusRefunded = "refunded"
)

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
