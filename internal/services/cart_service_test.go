package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/inkwell-books/api/internal/domain"
)

type stubCartRepo struct {
	getFn    func(context.Context, string) (domain.Cart, error)
	upsertFn func(context.Context, domain.Cart) (domain.Cart, error)
	deleteFn func(context.Context, string) error
}

func (s *stubCartRepo) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return domain.Cart{}, notFoundRepoError{}
}

func (s *stubCartRepo) Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cart)
	}
	return cart, nil
}

func (s *stubCartRepo) Delete(ctx context.Context, userID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, userID)
	}
	return nil
}

func newTestCartService(t *testing.T, carts *stubCartRepo, books *stubBookRepo) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Carts: carts,
		Books: books,
		Clock: func() time.Time {
			return time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func fictionBook(id string, stock int) domain.Book {
	return domain.Book{ID: id, Title: "Dune", Author: "Frank Herbert", Genre: domain.GenreFiction, UnitPrice: 1999, Stock: stock}
}

func TestCartServiceGetOrCreateCartReturnsEmptyWhenAbsent(t *testing.T) {
	svc := newTestCartService(t, &stubCartRepo{}, &stubBookRepo{})

	cart, err := svc.GetOrCreateCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetOrCreateCart returned error: %v", err)
	}
	if cart.UserID != "user-1" || len(cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %+v", cart)
	}
}

func TestCartServiceAddItem(t *testing.T) {
	var saved domain.Cart
	carts := &stubCartRepo{
		upsertFn: func(_ context.Context, cart domain.Cart) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	}
	books := &stubBookRepo{
		findFn: func(_ context.Context, bookID string) (domain.Book, error) {
			return fictionBook(bookID, 5), nil
		},
	}
	svc := newTestCartService(t, carts, books)

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{UserID: "user-1", BookID: "book_1", Quantity: 2})
	if err != nil {
		t.Fatalf("AddItem returned error: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 2 {
		t.Fatalf("unexpected cart %+v", cart)
	}
	if saved.Items[0].AddedAt.IsZero() {
		t.Fatalf("added item missing timestamp")
	}
}

func TestCartServiceAddItemIncrementsExistingLine(t *testing.T) {
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{{BookID: "book_1", Quantity: 2}}}, nil
		},
	}
	books := &stubBookRepo{
		findFn: func(_ context.Context, bookID string) (domain.Book, error) {
			return fictionBook(bookID, 5), nil
		},
	}
	svc := newTestCartService(t, carts, books)

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{UserID: "user-1", BookID: "book_1", Quantity: 3})
	if err != nil {
		t.Fatalf("AddItem returned error: %v", err)
	}
	if cart.Items[0].Quantity != 5 {
		t.Fatalf("expected merged quantity 5, got %d", cart.Items[0].Quantity)
	}
}

func TestCartServiceAddItemEnforcesStockCeiling(t *testing.T) {
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{{BookID: "book_1", Quantity: 4}}}, nil
		},
	}
	books := &stubBookRepo{
		findFn: func(_ context.Context, bookID string) (domain.Book, error) {
			return fictionBook(bookID, 5), nil
		},
	}
	svc := newTestCartService(t, carts, books)

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{UserID: "user-1", BookID: "book_1", Quantity: 2})
	if !errors.Is(err, ErrCartInsufficientStock) {
		t.Fatalf("expected ErrCartInsufficientStock, got %v", err)
	}
}

func TestCartServiceAddItemUnknownBook(t *testing.T) {
	books := &stubBookRepo{
		findFn: func(context.Context, string) (domain.Book, error) {
			return domain.Book{}, notFoundRepoError{}
		},
	}
	svc := newTestCartService(t, &stubCartRepo{}, books)

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{UserID: "user-1", BookID: "book_x", Quantity: 1})
	if !errors.Is(err, ErrCartBookNotFound) {
		t.Fatalf("expected ErrCartBookNotFound, got %v", err)
	}
}

func TestCartServiceUpdateItemZeroRemoves(t *testing.T) {
	deleted := false
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{{BookID: "book_1", Quantity: 2}}}, nil
		},
		deleteFn: func(context.Context, string) error {
			deleted = true
			return nil
		},
	}
	svc := newTestCartService(t, carts, &stubBookRepo{})

	cart, err := svc.UpdateItem(context.Background(), UpdateCartItemCommand{UserID: "user-1", BookID: "book_1", Quantity: 0})
	if err != nil {
		t.Fatalf("UpdateItem returned error: %v", err)
	}
	if !deleted {
		t.Fatalf("removing the last line must delete the cart document")
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %+v", cart)
	}
}

func TestCartServiceUpdateItemMissingLine(t *testing.T) {
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{{BookID: "book_1", Quantity: 2}}}, nil
		},
	}
	books := &stubBookRepo{
		findFn: func(_ context.Context, bookID string) (domain.Book, error) {
			return fictionBook(bookID, 5), nil
		},
	}
	svc := newTestCartService(t, carts, books)

	_, err := svc.UpdateItem(context.Background(), UpdateCartItemCommand{UserID: "user-1", BookID: "book_2", Quantity: 1})
	if !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound, got %v", err)
	}
}

func TestCartServiceRemoveItemKeepsOtherLines(t *testing.T) {
	var saved domain.Cart
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{
				{BookID: "book_1", Quantity: 2},
				{BookID: "book_2", Quantity: 1},
			}}, nil
		},
		upsertFn: func(_ context.Context, cart domain.Cart) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	}
	svc := newTestCartService(t, carts, &stubBookRepo{})

	cart, err := svc.RemoveItem(context.Background(), RemoveCartItemCommand{UserID: "user-1", BookID: "book_1"})
	if err != nil {
		t.Fatalf("RemoveItem returned error: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].BookID != "book_2" {
		t.Fatalf("unexpected cart %+v", cart)
	}
	if len(saved.Items) != 1 {
		t.Fatalf("persisted cart should hold one line, got %d", len(saved.Items))
	}
}
