package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/inkwell-books/api/internal/platform/auth"
	"github.com/inkwell-books/api/internal/platform/httpx"
	"github.com/inkwell-books/api/internal/services"
)

const maxCatalogRequestBody = 256 * 1024

// AdminCatalogHandlers exposes admin catalog CRUD endpoints.
type AdminCatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewAdminCatalogHandlers constructs admin catalog handlers.
func NewAdminCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService) *AdminCatalogHandlers {
	return &AdminCatalogHandlers{authn: authn, catalog: catalog}
}

// Routes registers admin catalog endpoints.
func (h *AdminCatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAdmin())
	}
	r.Route("/books", func(rt chi.Router) {
		rt.Post("/", h.createBook)
		rt.Put("/{bookID}", h.updateBook)
		rt.Delete("/{bookID}", h.deleteBook)
	})
}

type adminBookRequest struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	Genre       string `json:"genre"`
	UnitPrice   int64  `json:"unit_price"`
	Currency    string `json:"currency"`
	Stock       int    `json:"stock"`
}

func (h *AdminCatalogHandlers) createBook(w http.ResponseWriter, r *http.Request) {
	h.saveBook(w, r, "")
}

func (h *AdminCatalogHandlers) updateBook(w http.ResponseWriter, r *http.Request) {
	bookID := strings.TrimSpace(chi.URLParam(r, "bookID"))
	if bookID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "book id is required", http.StatusBadRequest))
		return
	}
	h.saveBook(w, r, bookID)
}

func (h *AdminCatalogHandlers) saveBook(w http.ResponseWriter, r *http.Request, bookID string) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCatalogRequestBody)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req adminBookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.UpsertBookCommand{
		BookID:      bookID,
		Title:       req.Title,
		Author:      req.Author,
		Description: req.Description,
		ImageURL:    strings.TrimSpace(req.ImageURL),
		Genre:       strings.ToLower(strings.TrimSpace(req.Genre)),
		UnitPrice:   req.UnitPrice,
		Currency:    strings.TrimSpace(req.Currency),
		Stock:       req.Stock,
		ActorID:     strings.TrimSpace(identity.UID),
	}

	var book services.Book
	if bookID == "" {
		book, err = h.catalog.CreateBook(ctx, cmd)
	} else {
		book, err = h.catalog.UpdateBook(ctx, cmd)
	}
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, bookResponse{Book: buildBookPayload(book)})
}

func (h *AdminCatalogHandlers) deleteBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	bookID := strings.TrimSpace(chi.URLParam(r, "bookID"))
	if bookID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "book id is required", http.StatusBadRequest))
		return
	}

	if err := h.catalog.DeleteBook(ctx, services.DeleteBookCommand{
		BookID:  bookID,
		ActorID: strings.TrimSpace(identity.UID),
	}); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
