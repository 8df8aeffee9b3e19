package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/inkwell-books/api/internal/domain"
	"github.com/inkwell-books/api/internal/services"
)

type stubCatalogService struct {
	listFunc   func(ctx context.Context, filter services.BookListFilter) (domain.CursorPage[services.Book], error)
	getFunc    func(ctx context.Context, bookID string) (services.Book, error)
	createFunc func(ctx context.Context, cmd services.UpsertBookCommand) (services.Book, error)
	updateFunc func(ctx context.Context, cmd services.UpsertBookCommand) (services.Book, error)
	deleteFunc func(ctx context.Context, cmd services.DeleteBookCommand) error
}

func (s *stubCatalogService) ListBooks(ctx context.Context, filter services.BookListFilter) (domain.CursorPage[services.Book], error) {
	if s.listFunc == nil {
		return domain.CursorPage[services.Book]{}, fmt.Errorf("unexpected ListBooks call")
	}
	return s.listFunc(ctx, filter)
}

func (s *stubCatalogService) GetBook(ctx context.Context, bookID string) (services.Book, error) {
	if s.getFunc == nil {
		return services.Book{}, fmt.Errorf("unexpected GetBook call")
	}
	return s.getFunc(ctx, bookID)
}

func (s *stubCatalogService) CreateBook(ctx context.Context, cmd services.UpsertBookCommand) (services.Book, error) {
	if s.createFunc == nil {
		return services.Book{}, fmt.Errorf("unexpected CreateBook call")
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubCatalogService) UpdateBook(ctx context.Context, cmd services.UpsertBookCommand) (services.Book, error) {
	if s.updateFunc == nil {
		return services.Book{}, fmt.Errorf("unexpected UpdateBook call")
	}
	return s.updateFunc(ctx, cmd)
}

func (s *stubCatalogService) DeleteBook(ctx context.Context, cmd services.DeleteBookCommand) error {
	if s.deleteFunc == nil {
		return fmt.Errorf("unexpected DeleteBook call")
	}
	return s.deleteFunc(ctx, cmd)
}

func TestBookHandlersListBooks(t *testing.T) {
	created := time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC)

	service := &stubCatalogService{
		listFunc: func(ctx context.Context, filter services.BookListFilter) (domain.CursorPage[services.Book], error) {
			if filter.Genre == nil || *filter.Genre != domain.GenreFiction {
				t.Fatalf("expected fiction genre filter, got %#v", filter.Genre)
			}
			if filter.PageSize != 5 {
				t.Fatalf("expected page size 5, got %d", filter.PageSize)
			}
			if filter.Search != "dune" {
				t.Fatalf("expected search dune, got %q", filter.Search)
			}
			return domain.CursorPage[services.Book]{
				Items: []services.Book{
					{
						ID:        "book-1",
						Title:     "Dune",
						Author:    "Frank Herbert",
						Genre:     domain.GenreFiction,
						UnitPrice: 1800,
						Currency:  "usd",
						Stock:     12,
						CreatedAt: created,
					},
				},
				NextPageToken: "tok-2",
			}, nil
		},
	}

	handler := NewBookHandlers(service)
	router := chi.NewRouter()
	router.Route("/books", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/books?genre=fiction&search=dune&page_size=5", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp bookListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 book, got %d", len(resp.Items))
	}
	if resp.Items[0].ID != "book-1" || resp.Items[0].Currency != "USD" {
		t.Fatalf("unexpected book payload %#v", resp.Items[0])
	}
	if resp.NextPageToken != "tok-2" {
		t.Fatalf("expected next page token tok-2, got %q", resp.NextPageToken)
	}
}

func TestBookHandlersListBooksRejectsUnknownGenre(t *testing.T) {
	handler := NewBookHandlers(&stubCatalogService{})
	router := chi.NewRouter()
	router.Route("/books", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/books?genre=cookbooks", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestBookHandlersGetBookNotFound(t *testing.T) {
	service := &stubCatalogService{
		getFunc: func(ctx context.Context, bookID string) (services.Book, error) {
			return services.Book{}, fmt.Errorf("%w: %s", services.ErrCatalogBookNotFound, bookID)
		},
	}

	handler := NewBookHandlers(service)
	router := chi.NewRouter()
	router.Route("/books", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/books/missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body["error"] != "book_not_found" {
		t.Fatalf("expected error code book_not_found, got %v", body["error"])
	}
}

func TestBookHandlersGetBookUnavailable(t *testing.T) {
	handler := NewBookHandlers(nil)
	router := chi.NewRouter()
	router.Route("/books", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/books/book-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestBookHandlersGetBookRepositoryFailure(t *testing.T) {
	service := &stubCatalogService{
		getFunc: func(ctx context.Context, bookID string) (services.Book, error) {
			return services.Book{}, errors.New("firestore unavailable")
		},
	}

	handler := NewBookHandlers(service)
	router := chi.NewRouter()
	router.Route("/books", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/books/book-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}
