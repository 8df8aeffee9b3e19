package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/inkwell-books/api/internal/domain"
	pfirestore "github.com/inkwell-books/api/internal/platform/firestore"
	"github.com/inkwell-books/api/internal/platform/textutil"
	"github.com/inkwell-books/api/internal/repositories"
)

const booksCollection = "books"

// BookRepository persists catalog books within Firestore.
type BookRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[bookDocument]
	orders   repositories.OrderRepository
}

// NewBookRepository constructs a Firestore-backed book repository. The order
// repository is consulted before deletes to enforce the in-use guard.
func NewBookRepository(provider *pfirestore.Provider, orders repositories.OrderRepository) (*BookRepository, error) {
	if provider == nil {
		return nil, errors.New("book repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[bookDocument](provider, booksCollection, nil, nil)
	return &BookRepository{provider: provider, base: base, orders: orders}, nil
}

// Insert creates the book document, failing on duplicate IDs.
func (r *BookRepository) Insert(ctx context.Context, book domain.Book) error {
	if r == nil || r.base == nil {
		return errors.New("book repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, book.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newBookDocument(book)); err != nil {
		return pfirestore.WrapError("books.insert", err)
	}
	return nil
}

// Update overwrites the book document.
func (r *BookRepository) Update(ctx context.Context, book domain.Book) error {
	if r == nil || r.base == nil {
		return errors.New("book repository not initialised")
	}
	if _, err := r.base.Set(ctx, book.ID, newBookDocument(book)); err != nil {
		return err
	}
	return nil
}

// Delete removes a book unless an order still references it.
func (r *BookRepository) Delete(ctx context.Context, bookID string) error {
	if r == nil || r.base == nil {
		return errors.New("book repository not initialised")
	}
	id := strings.TrimSpace(bookID)
	if id == "" {
		return errors.New("book repository: book id is required")
	}

	if r.orders != nil {
		inUse, err := r.orders.ExistsWithBook(ctx, id)
		if err != nil {
			return err
		}
		if inUse {
			return repositories.NewCatalogError(repositories.CatalogErrorBookInUse, fmt.Sprintf("book %s is referenced by existing orders", id), nil)
		}
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("books.delete", err)
	}
	return nil
}

// FindByID loads a single book.
func (r *BookRepository) FindByID(ctx context.Context, bookID string) (domain.Book, error) {
	if r == nil || r.base == nil {
		return domain.Book{}, errors.New("book repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(bookID))
	if err != nil {
		return domain.Book{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIDs loads several books keyed by ID. Missing books are simply absent
// from the result map.
func (r *BookRepository) FindByIDs(ctx context.Context, bookIDs []string) (map[string]domain.Book, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("book repository not initialised")
	}
	result := make(map[string]domain.Book, len(bookIDs))
	for _, id := range bookIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, seen := result[id]; seen {
			continue
		}
		doc, err := r.base.Get(ctx, id)
		if err != nil {
			var repoErr *pfirestore.Error
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		result[id] = doc.Data.toDomain(doc.ID)
	}
	return result, nil
}

// List pages through the catalog. When a search term is present the listing
// matches folded title or author prefixes and returns a single page; plain
// listings use cursor pagination ordered by creation time.
func (r *BookRepository) List(ctx context.Context, filter repositories.BookListFilter) (domain.CursorPage[domain.Book], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Book]{}, errors.New("book repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	if term := textutil.Fold(filter.Search); term != "" {
		return r.searchPrefix(ctx, term, filter.Genre, pageSize)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Book]{}, pfirestore.WrapError("books.list", err)
	}

	query := client.Collection(booksCollection).Query
	if filter.Genre != nil {
		query = query.Where("genre", "==", string(*filter.Genre))
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeBookPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Book]{}, pfirestore.WrapError("books.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var books []domain.Book
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Book]{}, pfirestore.WrapError("books.list", err)
		}
		var doc bookDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Book]{}, fmt.Errorf("decode book %s: %w", snap.Ref.ID, err)
		}
		books = append(books, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(books) > pageSize
	if hasMore {
		books = books[:pageSize]
	}
	var nextToken string
	if hasMore && len(books) > 0 {
		last := books[len(books)-1]
		encoded, err := encodeBookPageToken(bookPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Book]{}, pfirestore.WrapError("books.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Book]{Items: books, NextPageToken: nextToken}, nil
}

// searchPrefix runs two prefix queries (title and author) and merges the
// results. Firestore has no OR across fields in this client, so the queries
// are issued separately and de-duplicated in memory.
func (r *BookRepository) searchPrefix(ctx context.Context, term string, genre *domain.Genre, pageSize int) (domain.CursorPage[domain.Book], error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Book]{}, pfirestore.WrapError("books.search", err)
	}

	seen := make(map[string]domain.Book)
	for _, field := range []string{"titleFold", "authorFold"} {
		query := client.Collection(booksCollection).Query
		if genre != nil {
			query = query.Where("genre", "==", string(*genre))
		}
		query = query.
			Where(field, ">=", term).
			Where(field, "<", term+"\uf8ff").
			OrderBy(field, firestore.Asc).
			Limit(pageSize)

		iter := query.Documents(ctx)
		for {
			snap, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				iter.Stop()
				return domain.CursorPage[domain.Book]{}, pfirestore.WrapError("books.search", err)
			}
			var doc bookDocument
			if err := snap.DataTo(&doc); err != nil {
				iter.Stop()
				return domain.CursorPage[domain.Book]{}, fmt.Errorf("decode book %s: %w", snap.Ref.ID, err)
			}
			seen[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
		}
		iter.Stop()
	}

	books := make([]domain.Book, 0, len(seen))
	for _, book := range seen {
		books = append(books, book)
	}
	sort.Slice(books, func(i, j int) bool {
		return textutil.Fold(books[i].Title) < textutil.Fold(books[j].Title)
	})
	if len(books) > pageSize {
		books = books[:pageSize]
	}

	return domain.CursorPage[domain.Book]{Items: books}, nil
}

// Helper structures ---------------------------------------------------------

type bookDocument struct {
	Title       string    `firestore:"title"`
	TitleFold   string    `firestore:"titleFold"`
	Author      string    `firestore:"author"`
	AuthorFold  string    `firestore:"authorFold"`
	Description string    `firestore:"description,omitempty"`
	ImageURL    string    `firestore:"imageUrl,omitempty"`
	Genre       string    `firestore:"genre"`
	UnitPrice   int64     `firestore:"unitPrice"`
	Currency    string    `firestore:"currency"`
	Stock       int       `firestore:"stock"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newBookDocument(book domain.Book) bookDocument {
	title := strings.TrimSpace(book.Title)
	author := strings.TrimSpace(book.Author)
	return bookDocument{
		Title:       title,
		TitleFold:   textutil.Fold(title),
		Author:      author,
		AuthorFold:  textutil.Fold(author),
		Description: strings.TrimSpace(book.Description),
		ImageURL:    strings.TrimSpace(book.ImageURL),
		Genre:       string(book.Genre),
		UnitPrice:   book.UnitPrice,
		Currency:    strings.ToUpper(strings.TrimSpace(book.Currency)),
		Stock:       book.Stock,
		CreatedAt:   book.CreatedAt.UTC(),
		UpdatedAt:   book.UpdatedAt.UTC(),
	}
}

func (d bookDocument) toDomain(id string) domain.Book {
	genre, ok := domain.ParseGenre(d.Genre)
	if !ok {
		genre = domain.GenreOther
	}
	return domain.Book{
		ID:          id,
		Title:       d.Title,
		Author:      d.Author,
		Description: d.Description,
		ImageURL:    d.ImageURL,
		Genre:       genre,
		UnitPrice:   d.UnitPrice,
		Currency:    d.Currency,
		Stock:       d.Stock,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type bookPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeBookPageToken(token bookPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode book page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeBookPageToken(encoded string) (*bookPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode book page token: %w", err)
	}
	var token bookPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode book page token json: %w", err)
	}
	return &token, nil
}

var _ repositories.BookRepository = (*BookRepository)(nil)
