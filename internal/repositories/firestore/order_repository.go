package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/inkwell-books/api/internal/domain"
	pfirestore "github.com/inkwell-books/api/internal/platform/firestore"
	"github.com/inkwell-books/api/internal/repositories"
)

const (
	ordersCollection   = "orders"
	paymentsCollection = "payments"
)

// OrderRepository persists order aggregates within Firestore. All mutations
// run inside transactions so the order, its payment record, the cart removal,
// and the stock adjustments commit or fail together.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	payments *pfirestore.BaseRepository[paymentDocument]
	books    *pfirestore.BaseRepository[bookDocument]
	carts    *pfirestore.BaseRepository[cartDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		payments: pfirestore.NewBaseRepository[paymentDocument](provider, paymentsCollection, nil, nil),
		books:    pfirestore.NewBaseRepository[bookDocument](provider, booksCollection, nil, nil),
		carts:    pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil),
	}, nil
}

// CreateFromCheckout turns the user's cart into an order aggregate. The
// payment document is keyed by the provider transaction ID and written with
// a create precondition, so a redelivered payment event aborts with
// OrderErrorDuplicatePayment before anything else changes.
func (r *OrderRepository) CreateFromCheckout(ctx context.Context, req repositories.CheckoutCompletion) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return domain.Order{}, errors.New("order create: order id is required")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return domain.Order{}, errors.New("order create: user id is required")
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		return domain.Order{}, errors.New("order create: transaction id is required")
	}

	now := req.Now.UTC()
	var created domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		paymentRef, err := r.payments.DocumentRef(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(paymentRef); err == nil {
			return repositories.NewOrderError(repositories.OrderErrorDuplicatePayment, fmt.Sprintf("payment %s already processed", req.TransactionID), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		cartRef, err := r.carts.DocumentRef(ctx, req.UserID)
		if err != nil {
			return err
		}
		cartSnap, err := tx.Get(cartRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorEmptyCart, fmt.Sprintf("no cart for user %s", req.UserID), err)
			}
			return err
		}
		var cartDoc cartDocument
		if err := cartSnap.DataTo(&cartDoc); err != nil {
			return fmt.Errorf("decode cart %s: %w", req.UserID, err)
		}
		if len(cartDoc.Items) == 0 {
			return repositories.NewOrderError(repositories.OrderErrorEmptyCart, fmt.Sprintf("cart for user %s is empty", req.UserID), nil)
		}

		// All reads happen before the first write.
		type lineWrite struct {
			ref      *firestore.DocumentRef
			newStock int
			line     domain.OrderLineItem
		}
		writes := make([]lineWrite, 0, len(cartDoc.Items))
		var total int64
		fastOnly := true
		bookRefs := make([]string, 0, len(cartDoc.Items))

		for _, item := range cartDoc.Items {
			bookID := strings.TrimSpace(item.BookRef)
			if bookID == "" || item.Quantity <= 0 {
				return repositories.NewOrderError(repositories.OrderErrorUnknown, "order create: cart line is malformed", nil)
			}
			bookRef, err := r.books.DocumentRef(ctx, bookID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(bookRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewOrderError(repositories.OrderErrorBookNotFound, fmt.Sprintf("book %s not found", bookID), err)
				}
				return err
			}
			var bookDoc bookDocument
			if err := snap.DataTo(&bookDoc); err != nil {
				return fmt.Errorf("decode book %s: %w", bookID, err)
			}
			if bookDoc.Stock < item.Quantity {
				return repositories.NewInsufficientStockError(bookDoc.Title, bookDoc.Stock, item.Quantity)
			}
			if bookDoc.Genre != string(domain.GenreFiction) {
				fastOnly = false
			}
			total += bookDoc.UnitPrice * int64(item.Quantity)
			writes = append(writes, lineWrite{
				ref:      bookRef,
				newStock: bookDoc.Stock - item.Quantity,
				line: domain.OrderLineItem{
					BookID:    bookID,
					Title:     bookDoc.Title,
					Quantity:  item.Quantity,
					UnitPrice: bookDoc.UnitPrice,
				},
			})
			bookRefs = append(bookRefs, bookID)
		}

		for _, w := range writes {
			if err := tx.Update(w.ref, []firestore.Update{
				{Path: "stock", Value: w.newStock},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}

		lines := make([]domain.OrderLineItem, len(writes))
		for i, w := range writes {
			lines[i] = w.line
		}

		order := domain.Order{
			ID:          req.OrderID,
			OrderNumber: req.OrderNumber,
			UserID:      req.UserID,
			Status:      domain.OrderStatusInProgress,
			Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
			TotalAmount: total,
			FastOnly:    fastOnly,
			Items:       lines,
			PaymentRef:  req.TransactionID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, newOrderDocument(order, bookRefs)); err != nil {
			return err
		}

		payment := paymentDocument{
			OrderRef:  order.ID,
			Method:    strings.TrimSpace(req.Method),
			Status:    domain.PaymentStatusCompleted,
			Amount:    req.Amount,
			Currency:  order.Currency,
			CreatedAt: now,
		}
		if err := tx.Create(paymentRef, payment); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewOrderError(repositories.OrderErrorDuplicatePayment, fmt.Sprintf("payment %s already processed", req.TransactionID), err)
			}
			return err
		}

		if err := tx.Delete(cartRef); err != nil {
			return err
		}

		created = order
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.createFromCheckout", err)
	}
	return created, nil
}

// ApplyTransition performs the status change and its inventory effect in one
// transaction. The stored status is compared against ExpectedStatus inside
// the transaction, which closes the check-then-act gap between a scheduled
// fulfillment job and a concurrent override.
func (r *OrderRepository) ApplyTransition(ctx context.Context, req repositories.OrderTransition) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order transition: order id is required")
	}
	if _, ok := domain.ParseOrderStatus(string(req.Target)); !ok {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorUnknown, fmt.Sprintf("order transition: unknown status %q", req.Target), nil)
	}

	now := req.Now.UTC()
	var updated domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		current, ok := domain.ParseOrderStatus(doc.Status)
		if !ok {
			return repositories.NewOrderError(repositories.OrderErrorUnknown, fmt.Sprintf("order %s has unknown stored status %q", orderID, doc.Status), nil)
		}
		if req.ExpectedStatus != nil && current != *req.ExpectedStatus {
			return repositories.NewOrderError(repositories.OrderErrorStatusConflict, fmt.Sprintf("order %s is %s, expected %s", orderID, current, *req.ExpectedStatus), nil)
		}

		if current == req.Target {
			// Same-state transition is a no-op; never replay inventory effects.
			updated = doc.toDomain(orderID)
			return nil
		}

		effect := domain.TransitionStockEffect(current, req.Target)

		type stockWrite struct {
			ref      *firestore.DocumentRef
			newStock int
		}
		var stockWrites []stockWrite
		if effect != domain.StockEffectNone {
			stockWrites = make([]stockWrite, 0, len(doc.Items))
			for _, line := range doc.Items {
				bookRef, err := r.books.DocumentRef(ctx, line.BookRef)
				if err != nil {
					return err
				}
				bookSnap, err := tx.Get(bookRef)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						return repositories.NewOrderError(repositories.OrderErrorBookNotFound, fmt.Sprintf("book %s not found", line.BookRef), err)
					}
					return err
				}
				var bookDoc bookDocument
				if err := bookSnap.DataTo(&bookDoc); err != nil {
					return fmt.Errorf("decode book %s: %w", line.BookRef, err)
				}

				newStock := bookDoc.Stock
				switch effect {
				case domain.StockEffectRestore:
					newStock += line.Quantity
				case domain.StockEffectRedecrement:
					if bookDoc.Stock < line.Quantity {
						return repositories.NewInsufficientStockError(bookDoc.Title, bookDoc.Stock, line.Quantity)
					}
					newStock -= line.Quantity
				}
				stockWrites = append(stockWrites, stockWrite{ref: bookRef, newStock: newStock})
			}
		}

		for _, w := range stockWrites {
			if err := tx.Update(w.ref, []firestore.Update{
				{Path: "stock", Value: w.newStock},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}

		doc.Status = string(req.Target)
		doc.UpdatedAt = now
		switch req.Target {
		case domain.OrderStatusDelivered:
			doc.DeliveredAt = &now
		case domain.OrderStatusCancelled:
			doc.CancelledAt = &now
		case domain.OrderStatusRefunded:
			doc.RefundedAt = &now
		}
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}

		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.applyTransition", err)
	}
	return updated, nil
}

// FindByID loads a single order aggregate.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, wrapOrderError("orders.findByID", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByTransactionID follows the payment document keyed by the provider
// transaction ID to the order it produced.
func (r *OrderRepository) FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error) {
	if r == nil || r.payments == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	txID := strings.TrimSpace(transactionID)
	if txID == "" {
		return domain.Order{}, errors.New("order repository: transaction id is required")
	}

	doc, err := r.payments.Get(ctx, txID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("no payment recorded for transaction %s", txID), err)
		}
		return domain.Order{}, wrapOrderError("orders.findByTransactionID", err)
	}

	return r.FindByID(ctx, doc.Data.OrderRef)
}

// List pages through orders ordered by creation time, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if uid := strings.TrimSpace(filter.UserID); uid != "" {
		query = query.Where("userRef", "==", uid)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		query = query.Where("status", "in", statuses)
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// ExistsWithBook reports whether any order line references the book.
func (r *OrderRepository) ExistsWithBook(ctx context.Context, bookID string) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(bookID)
	if id == "" {
		return false, errors.New("order repository: book id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return false, wrapOrderError("orders.existsWithBook", err)
	}

	iter := client.Collection(ordersCollection).
		Where("itemBookRefs", "array-contains", id).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	_, err = iter.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, wrapOrderError("orders.existsWithBook", err)
	}
	return true, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	OrderNumber  string              `firestore:"orderNumber"`
	UserRef      string              `firestore:"userRef"`
	Status       string              `firestore:"status"`
	Currency     string              `firestore:"currency"`
	TotalAmount  int64               `firestore:"totalAmount"`
	FastOnly     bool                `firestore:"fastOnly"`
	Items        []orderLineDocument `firestore:"items"`
	ItemBookRefs []string            `firestore:"itemBookRefs"`
	PaymentRef   string              `firestore:"paymentRef"`
	CreatedAt    time.Time           `firestore:"createdAt"`
	UpdatedAt    time.Time           `firestore:"updatedAt"`
	DeliveredAt  *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt  *time.Time          `firestore:"cancelledAt,omitempty"`
	RefundedAt   *time.Time          `firestore:"refundedAt,omitempty"`
}

type orderLineDocument struct {
	BookRef   string `firestore:"bookRef"`
	Title     string `firestore:"title"`
	Quantity  int    `firestore:"qty"`
	UnitPrice int64  `firestore:"unitPrice"`
}

func newOrderDocument(order domain.Order, bookRefs []string) orderDocument {
	items := make([]orderLineDocument, len(order.Items))
	for i, line := range order.Items {
		items[i] = orderLineDocument{
			BookRef:   line.BookID,
			Title:     line.Title,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
	}
	return orderDocument{
		OrderNumber:  order.OrderNumber,
		UserRef:      order.UserID,
		Status:       string(order.Status),
		Currency:     order.Currency,
		TotalAmount:  order.TotalAmount,
		FastOnly:     order.FastOnly,
		Items:        items,
		ItemBookRefs: bookRefs,
		PaymentRef:   order.PaymentRef,
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineItem, len(d.Items))
	for i, line := range d.Items {
		items[i] = domain.OrderLineItem{
			BookID:    line.BookRef,
			Title:     line.Title,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
	}
	status, ok := domain.ParseOrderStatus(d.Status)
	if !ok {
		status = domain.OrderStatus(d.Status)
	}
	return domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		UserID:      d.UserRef,
		Status:      status,
		Currency:    d.Currency,
		TotalAmount: d.TotalAmount,
		FastOnly:    d.FastOnly,
		Items:       items,
		PaymentRef:  d.PaymentRef,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		DeliveredAt: d.DeliveredAt,
		CancelledAt: d.CancelledAt,
		RefundedAt:  d.RefundedAt,
	}
}

type paymentDocument struct {
	OrderRef  string    `firestore:"orderRef"`
	Method    string    `firestore:"method"`
	Status    string    `firestore:"status"`
	Amount    int64     `firestore:"amount"`
	Currency  string    `firestore:"currency"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
