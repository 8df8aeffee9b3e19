package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/inkwell-books/api/internal/domain"
	"github.com/inkwell-books/api/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartBookNotFound indicates the referenced book does not exist in the catalog.
	ErrCartBookNotFound = errors.New("cart: book not found")
	// ErrCartItemNotFound indicates the cart holds no line for the referenced book.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartInsufficientStock indicates the requested quantity exceeds available stock.
	ErrCartInsufficientStock = errors.New("cart: insufficient stock")
)

// CartServiceDeps wires the repositories the cart operations need.
type CartServiceDeps struct {
	Carts  repositories.CartRepository
	Books  repositories.BookRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts  repositories.CartRepository
	books  repositories.BookRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Books == nil {
		return nil, errors.New("cart service: book repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts: deps.Carts,
		books: deps.Books,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetOrCreateCart loads the cart for the user. An absent cart document reads
// as an empty cart; nothing is persisted until the first item goes in.
func (s *cartService) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.Get(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{UserID: uid, UpdatedAt: s.clock()}, nil
		}
		return Cart{}, err
	}
	return cart, nil
}

// AddItem increments the cart line for the book, creating it when absent. The
// resulting quantity is checked against the book's current stock.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	bookID := strings.TrimSpace(cmd.BookID)
	if bookID == "" {
		return Cart{}, fmt.Errorf("%w: book id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}

	book, err := s.findBook(ctx, bookID)
	if err != nil {
		return Cart{}, err
	}

	cart, err := s.GetOrCreateCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	now := s.clock()
	found := false
	for i, item := range cart.Items {
		if item.BookID != bookID {
			continue
		}
		cart.Items[i].Quantity += cmd.Quantity
		if cart.Items[i].Quantity > book.Stock {
			return Cart{}, s.stockError(book, cart.Items[i].Quantity)
		}
		found = true
		break
	}
	if !found {
		if cmd.Quantity > book.Stock {
			return Cart{}, s.stockError(book, cmd.Quantity)
		}
		cart.Items = append(cart.Items, CartItem{
			BookID:   bookID,
			Quantity: cmd.Quantity,
			AddedAt:  now,
		})
	}
	cart.UpdatedAt = now

	saved, err := s.carts.Upsert(ctx, cart)
	if err != nil {
		return Cart{}, err
	}

	s.logger(ctx, "cart.item.added", map[string]any{
		"user": uid,
		"book": bookID,
		"qty":  cmd.Quantity,
	})

	return saved, nil
}

// UpdateItem sets the absolute quantity for a cart line. Quantity zero
// removes the line.
func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	bookID := strings.TrimSpace(cmd.BookID)
	if bookID == "" {
		return Cart{}, fmt.Errorf("%w: book id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 0 {
		return Cart{}, fmt.Errorf("%w: quantity must not be negative", ErrCartInvalidInput)
	}

	if cmd.Quantity == 0 {
		return s.RemoveItem(ctx, RemoveCartItemCommand{UserID: uid, BookID: bookID})
	}

	book, err := s.findBook(ctx, bookID)
	if err != nil {
		return Cart{}, err
	}
	if cmd.Quantity > book.Stock {
		return Cart{}, s.stockError(book, cmd.Quantity)
	}

	cart, err := s.GetOrCreateCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	found := false
	for i, item := range cart.Items {
		if item.BookID == bookID {
			cart.Items[i].Quantity = cmd.Quantity
			found = true
			break
		}
	}
	if !found {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, bookID)
	}
	cart.UpdatedAt = s.clock()

	return s.carts.Upsert(ctx, cart)
}

// RemoveItem drops a cart line. Removing the last line deletes the cart
// document entirely.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	bookID := strings.TrimSpace(cmd.BookID)
	if bookID == "" {
		return Cart{}, fmt.Errorf("%w: book id is required", ErrCartInvalidInput)
	}

	cart, err := s.GetOrCreateCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	remaining := cart.Items[:0]
	found := false
	for _, item := range cart.Items {
		if item.BookID == bookID {
			found = true
			continue
		}
		remaining = append(remaining, item)
	}
	if !found {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, bookID)
	}
	cart.Items = remaining
	cart.UpdatedAt = s.clock()

	if len(cart.Items) == 0 {
		if err := s.carts.Delete(ctx, uid); err != nil {
			return Cart{}, err
		}
		return Cart{UserID: uid, UpdatedAt: cart.UpdatedAt}, nil
	}

	return s.carts.Upsert(ctx, cart)
}

func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	return s.carts.Delete(ctx, uid)
}

func (s *cartService) findBook(ctx context.Context, bookID string) (Book, error) {
	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		if isRepoNotFound(err) {
			return Book{}, fmt.Errorf("%w: %s", ErrCartBookNotFound, bookID)
		}
		return Book{}, err
	}
	return book, nil
}

func (s *cartService) stockError(book domain.Book, requested int) error {
	return fmt.Errorf("%w: Insufficient stock for %s. Current stock: %d, required: %d",
		ErrCartInsufficientStock, book.Title, book.Stock, requested)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
