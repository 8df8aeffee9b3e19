package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/inkwell-books/api/internal/domain"
	"github.com/inkwell-books/api/internal/repositories"
)

const bookIDPrefix = "book_"

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog mutation.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogBookNotFound indicates the book could not be located.
	ErrCatalogBookNotFound = errors.New("catalog: book not found")
	// ErrCatalogBookInUse indicates the book is referenced by an order and cannot be deleted.
	ErrCatalogBookInUse = errors.New("catalog: book in use")
	// ErrCatalogConflict indicates a duplicate insert or concurrent modification.
	ErrCatalogConflict = errors.New("catalog: conflict")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Books       repositories.BookRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	books      repositories.BookRepository
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
	textPolicy *bluemonday.Policy
	htmlPolicy *bluemonday.Policy
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Books == nil {
		return nil, errors.New("catalog service: book repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		books: deps.Books,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		logger:     logger,
		textPolicy: bluemonday.StrictPolicy(),
		htmlPolicy: newDescriptionPolicy(),
	}, nil
}

// newDescriptionPolicy allows light formatting in book descriptions while
// stripping scripts and untrusted attributes.
func newDescriptionPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	return policy
}

func (s *catalogService) ListBooks(ctx context.Context, filter BookListFilter) (domain.CursorPage[Book], error) {
	page, err := s.books.List(ctx, repositories.BookListFilter{
		Genre:      filter.Genre,
		Search:     strings.TrimSpace(filter.Search),
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Book]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) GetBook(ctx context.Context, bookID string) (Book, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return Book{}, fmt.Errorf("%w: book id is required", ErrCatalogInvalidInput)
	}
	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		return Book{}, s.mapRepositoryError(err)
	}
	return book, nil
}

func (s *catalogService) CreateBook(ctx context.Context, cmd UpsertBookCommand) (Book, error) {
	book, err := s.buildBook(cmd)
	if err != nil {
		return Book{}, err
	}

	now := s.clock()
	book.ID = bookIDPrefix + s.newID()
	book.CreatedAt = now
	book.UpdatedAt = now

	if err := s.books.Insert(ctx, book); err != nil {
		return Book{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.book.created", map[string]any{
		"book":  book.ID,
		"genre": string(book.Genre),
		"actor": cmd.ActorID,
	})

	return book, nil
}

func (s *catalogService) UpdateBook(ctx context.Context, cmd UpsertBookCommand) (Book, error) {
	bookID := strings.TrimSpace(cmd.BookID)
	if bookID == "" {
		return Book{}, fmt.Errorf("%w: book id is required", ErrCatalogInvalidInput)
	}

	book, err := s.buildBook(cmd)
	if err != nil {
		return Book{}, err
	}

	existing, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		return Book{}, s.mapRepositoryError(err)
	}

	book.ID = existing.ID
	book.CreatedAt = existing.CreatedAt
	book.UpdatedAt = s.clock()

	if err := s.books.Update(ctx, book); err != nil {
		return Book{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.book.updated", map[string]any{
		"book":  book.ID,
		"actor": cmd.ActorID,
	})

	return book, nil
}

func (s *catalogService) DeleteBook(ctx context.Context, cmd DeleteBookCommand) error {
	bookID := strings.TrimSpace(cmd.BookID)
	if bookID == "" {
		return fmt.Errorf("%w: book id is required", ErrCatalogInvalidInput)
	}

	if err := s.books.Delete(ctx, bookID); err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.book.deleted", map[string]any{
		"book":  bookID,
		"actor": cmd.ActorID,
	})

	return nil
}

// buildBook validates and sanitises the command fields shared by create and
// update. User supplied text never reaches storage with markup attached.
func (s *catalogService) buildBook(cmd UpsertBookCommand) (Book, error) {
	title := strings.TrimSpace(s.textPolicy.Sanitize(cmd.Title))
	if title == "" {
		return Book{}, fmt.Errorf("%w: title is required", ErrCatalogInvalidInput)
	}
	author := strings.TrimSpace(s.textPolicy.Sanitize(cmd.Author))
	if author == "" {
		return Book{}, fmt.Errorf("%w: author is required", ErrCatalogInvalidInput)
	}

	genre, ok := domain.ParseGenre(strings.TrimSpace(cmd.Genre))
	if !ok {
		return Book{}, fmt.Errorf("%w: unknown genre %q", ErrCatalogInvalidInput, cmd.Genre)
	}

	if cmd.UnitPrice < 0 {
		return Book{}, fmt.Errorf("%w: unit price must not be negative", ErrCatalogInvalidInput)
	}
	if cmd.Stock < 0 {
		return Book{}, fmt.Errorf("%w: stock must not be negative", ErrCatalogInvalidInput)
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = "USD"
	}

	return Book{
		Title:       title,
		Author:      author,
		Description: strings.TrimSpace(s.htmlPolicy.Sanitize(cmd.Description)),
		ImageURL:    strings.TrimSpace(cmd.ImageURL),
		Genre:       genre,
		UnitPrice:   cmd.UnitPrice,
		Currency:    currency,
		Stock:       cmd.Stock,
	}, nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var catalogErr *repositories.CatalogError
	if errors.As(err, &catalogErr) {
		switch catalogErr.Code {
		case repositories.CatalogErrorBookNotFound:
			return fmt.Errorf("%w: %v", ErrCatalogBookNotFound, err)
		case repositories.CatalogErrorBookInUse:
			return fmt.Errorf("%w: %v", ErrCatalogBookInUse, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogBookNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}

	return err
}
