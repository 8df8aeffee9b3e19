package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/inkwell-books/api/internal/domain"
	"github.com/inkwell-books/api/internal/services"
)

func TestAdminCatalogHandlersCreateBook(t *testing.T) {
	service := &stubCatalogService{
		createFunc: func(ctx context.Context, cmd services.UpsertBookCommand) (services.Book, error) {
			if cmd.BookID != "" {
				t.Fatalf("expected empty book id on create, got %q", cmd.BookID)
			}
			if cmd.ActorID != "admin-1" {
				t.Fatalf("expected actor admin-1, got %q", cmd.ActorID)
			}
			if cmd.Genre != "fiction" {
				t.Fatalf("expected normalised genre fiction, got %q", cmd.Genre)
			}
			return services.Book{
				ID:        "book-new",
				Title:     cmd.Title,
				Author:    cmd.Author,
				Genre:     domain.GenreFiction,
				UnitPrice: cmd.UnitPrice,
				Currency:  "USD",
				Stock:     cmd.Stock,
			}, nil
		},
	}

	handler := NewAdminCatalogHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	body := `{"title":"Dune","author":"Frank Herbert","genre":"Fiction","unit_price":1800,"currency":"usd","stock":10}`
	req := identityRequest(t, http.MethodPost, "/admin/books", body, "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp bookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Book.ID != "book-new" || resp.Book.Currency != "USD" {
		t.Fatalf("unexpected book payload %#v", resp.Book)
	}
}

func TestAdminCatalogHandlersUpdateBook(t *testing.T) {
	service := &stubCatalogService{
		updateFunc: func(ctx context.Context, cmd services.UpsertBookCommand) (services.Book, error) {
			if cmd.BookID != "book-1" {
				t.Fatalf("expected book-1, got %q", cmd.BookID)
			}
			return services.Book{ID: "book-1", Title: cmd.Title, Genre: domain.GenreScience}, nil
		},
	}

	handler := NewAdminCatalogHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	body := `{"title":"Cosmos","author":"Carl Sagan","genre":"science","unit_price":2100,"currency":"usd","stock":4}`
	req := identityRequest(t, http.MethodPut, "/admin/books/book-1", body, "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAdminCatalogHandlersUpdateBookNotFound(t *testing.T) {
	service := &stubCatalogService{
		updateFunc: func(ctx context.Context, cmd services.UpsertBookCommand) (services.Book, error) {
			return services.Book{}, services.ErrCatalogBookNotFound
		},
	}

	handler := NewAdminCatalogHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	body := `{"title":"Ghost","author":"Nobody","genre":"other","unit_price":100,"currency":"usd","stock":1}`
	req := identityRequest(t, http.MethodPut, "/admin/books/missing", body, "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestAdminCatalogHandlersDeleteBook(t *testing.T) {
	service := &stubCatalogService{
		deleteFunc: func(ctx context.Context, cmd services.DeleteBookCommand) error {
			if cmd.BookID != "book-1" || cmd.ActorID != "admin-1" {
				t.Fatalf("unexpected command %#v", cmd)
			}
			return nil
		},
	}

	handler := NewAdminCatalogHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := identityRequest(t, http.MethodDelete, "/admin/books/book-1", "", "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
}

func TestAdminCatalogHandlersDeleteBookInUse(t *testing.T) {
	service := &stubCatalogService{
		deleteFunc: func(ctx context.Context, cmd services.DeleteBookCommand) error {
			return services.ErrCatalogBookInUse
		},
	}

	handler := NewAdminCatalogHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := identityRequest(t, http.MethodDelete, "/admin/books/book-1", "", "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body["error"] != "book_in_use" {
		t.Fatalf("expected book_in_use, got %v", body["error"])
	}
}
