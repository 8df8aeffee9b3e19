package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/inkwell-books/api/internal/domain"
	"github.com/inkwell-books/api/internal/platform/httpx"
	"github.com/inkwell-books/api/internal/services"
)

const (
	defaultBookPageSize = 20
	maxBookPageSize     = 100
)

// BookHandlers exposes the public catalog endpoints. No authentication is
// required to browse books.
type BookHandlers struct {
	catalog services.CatalogService
}

// NewBookHandlers constructs a new BookHandlers instance.
func NewBookHandlers(catalog services.CatalogService) *BookHandlers {
	return &BookHandlers{catalog: catalog}
}

// Routes registers the /books endpoints.
func (h *BookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listBooks)
	r.Get("/{bookID}", h.getBook)
}

func (h *BookHandlers) listBooks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	filter := services.BookListFilter{
		Search: strings.TrimSpace(query.Get("search")),
		Pagination: services.Pagination{
			PageSize:  defaultBookPageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	if raw := strings.TrimSpace(query.Get("genre")); raw != "" {
		genre, ok := domain.ParseGenre(strings.ToLower(raw))
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "genre must be a known catalog genre", http.StatusBadRequest))
			return
		}
		filter.Genre = &genre
	}

	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			filter.PageSize = defaultBookPageSize
		case size > maxBookPageSize:
			filter.PageSize = maxBookPageSize
		default:
			filter.PageSize = size
		}
	}

	page, err := h.catalog.ListBooks(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]bookPayload, 0, len(page.Items))
	for _, book := range page.Items {
		items = append(items, buildBookPayload(book))
	}

	writeJSONResponse(w, http.StatusOK, bookListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *BookHandlers) getBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	bookID := strings.TrimSpace(chi.URLParam(r, "bookID"))
	if bookID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "book id is required", http.StatusBadRequest))
		return
	}

	book, err := h.catalog.GetBook(ctx, bookID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, bookResponse{Book: buildBookPayload(book)})
}

type bookListResponse struct {
	Items         []bookPayload `json:"items"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type bookResponse struct {
	Book bookPayload `json:"book"`
}

type bookPayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Genre       string `json:"genre"`
	UnitPrice   int64  `json:"unit_price"`
	Currency    string `json:"currency"`
	Stock       int    `json:"stock"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func buildBookPayload(book services.Book) bookPayload {
	return bookPayload{
		ID:          strings.TrimSpace(book.ID),
		Title:       strings.TrimSpace(book.Title),
		Author:      strings.TrimSpace(book.Author),
		Description: strings.TrimSpace(book.Description),
		ImageURL:    strings.TrimSpace(book.ImageURL),
		Genre:       string(book.Genre),
		UnitPrice:   book.UnitPrice,
		Currency:    strings.ToUpper(strings.TrimSpace(book.Currency)),
		Stock:       book.Stock,
		CreatedAt:   formatTime(book.CreatedAt),
		UpdatedAt:   formatTime(book.UpdatedAt),
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogBookNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("book_not_found", "book not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogBookInUse):
		httpx.WriteError(ctx, w, httpx.NewError("book_in_use", "book is referenced by existing orders", http.StatusConflict))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}
