package reconcile

//go:generate mockgen -source=remote.go -destination=mock_remote_test.go -package=reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/bookstack-sync/internal/bookstack"
	apperrors "github.com/alexjbarnes/bookstack-sync/internal/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"
)

// Remote is the wiki API. *bookstack.Client implements it.
type Remote interface {
	List(ctx context.Context, res bookstack.Resource) ([]json.RawMessage, error)
	Get(ctx context.Context, res bookstack.Resource, id int64) (json.RawMessage, error)
	Create(ctx context.Context, res bookstack.Resource, body any) (json.RawMessage, error)
	Update(ctx context.Context, res bookstack.Resource, id int64, body any) (json.RawMessage, error)
	Delete(ctx context.Context, res bookstack.Resource, id int64) error
	ExportMarkdown(ctx context.Context, pageID int64) ([]byte, error)
}

// RemoteCollector builds a Hierarchy from the wiki API. The API lists
// each level as a flat collection, so parent links are rebuilt from the
// shelf "books" and book "contents" embedded in detail views.
type RemoteCollector struct {
	remote      Remote
	concurrency int
	logger      *slog.Logger
}

// NewRemoteCollector returns a collector issuing at most concurrency
// detail requests at a time. Values below 1 mean 1.
func NewRemoteCollector(remote Remote, concurrency int, logger *slog.Logger) *RemoteCollector {
	if concurrency < 1 {
		concurrency = 1
	}

	return &RemoteCollector{remote: remote, concurrency: concurrency, logger: logger}
}

// Collect fetches and links all four levels. Any API error aborts the
// whole collection.
func (c *RemoteCollector) Collect(ctx context.Context) (*Hierarchy, error) {
	shelves, err := c.collectShelves(ctx)
	if err != nil {
		return nil, err
	}

	books, err := c.collectBooks(ctx, shelves)
	if err != nil {
		return nil, err
	}

	chapters, err := c.collectChapters(ctx, books)
	if err != nil {
		return nil, err
	}

	pages, err := c.collectPages(ctx, books, chapters)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("collected remote hierarchy",
		slog.Int("shelves", len(shelves)),
		slog.Int("books", len(books)),
		slog.Int("chapters", len(chapters)),
		slog.Int("pages", len(pages)),
	)

	return newHierarchy(RemoteSide, shelves, books, chapters, pages), nil
}

// details lists a collection and fetches each entry's detail view.
// Results keep the listing order.
func (c *RemoteCollector) details(ctx context.Context, res bookstack.Resource) ([]Details, error) {
	items, err := c.remote.List(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("collecting remote %s: %w", res, err)
	}

	ids := make([]int64, len(items))

	for i, item := range items {
		id := gjson.GetBytes(item, "id")
		if !id.Exists() {
			return nil, fmt.Errorf("%w: %s listing entry without id", apperrors.ErrAPIResponse, res)
		}

		ids[i] = id.Int()
	}

	out := make([]Details, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			doc, err := c.remote.Get(gctx, res, id)
			if err != nil {
				return err
			}

			out[i] = Details(doc)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collecting remote %s: %w", res, err)
	}

	return out, nil
}

func (c *RemoteCollector) collectShelves(ctx context.Context) ([]*Shelf, error) {
	docs, err := c.details(ctx, bookstack.Shelves)
	if err != nil {
		return nil, err
	}

	shelves := make([]*Shelf, 0, len(docs))

	for _, d := range docs {
		s := &Shelf{
			Name:        d.Get("name").String(),
			ClientBooks: summaries(d.Get("books")),
		}

		// ClientBooks is the only book list for a shelf. attachBooks
		// builds its update from it, so the embedded copy is dropped from
		// Details rather than left to go stale after an attach.
		stripped, err := sjson.DeleteBytes(d, "books")
		if err != nil {
			return nil, fmt.Errorf("%w: shelf %q: %w", apperrors.ErrAPIResponse, s.Name, err)
		}

		s.Details = stripped
		shelves = append(shelves, s)
	}

	return shelves, nil
}

func (c *RemoteCollector) collectBooks(ctx context.Context, shelves []*Shelf) ([]*Book, error) {
	docs, err := c.details(ctx, bookstack.Books)
	if err != nil {
		return nil, err
	}

	books := make([]*Book, 0, len(docs))
	byLink := make(map[Key]*Book, len(docs))

	for _, d := range docs {
		b := &Book{Name: d.Get("name").String(), Details: d}
		books = append(books, b)
		byLink[linkKey(b.Name, d.ID())] = b
	}

	for _, s := range shelves {
		for _, cb := range s.ClientBooks {
			b, ok := byLink[linkKey(cb.Name, cb.ID)]
			if !ok {
				c.logger.Warn("shelf lists unknown book",
					slog.String("shelf", s.Name),
					slog.String("book", cb.Name),
					slog.Int64("id", cb.ID),
				)

				continue
			}

			// A book keeps the first shelf it is found on.
			if b.Shelf != "" {
				c.logger.Debug("book is on more than one shelf",
					slog.String("book", b.Name),
					slog.String("shelf", b.Shelf),
					slog.String("also_on", s.Name),
				)

				continue
			}

			b.Shelf = s.Name
			s.Books = append(s.Books, b)
		}
	}

	return books, nil
}

func (c *RemoteCollector) collectChapters(ctx context.Context, books []*Book) ([]*Chapter, error) {
	docs, err := c.details(ctx, bookstack.Chapters)
	if err != nil {
		return nil, err
	}

	chapters := make([]*Chapter, 0, len(docs))
	byLink := make(map[Key]*Chapter, len(docs))

	for _, d := range docs {
		ch := &Chapter{Name: d.Get("name").String(), Details: d}
		chapters = append(chapters, ch)
		byLink[linkKey(ch.Name, d.ID())] = ch
	}

	for _, b := range books {
		for _, entry := range b.Contents() {
			if entry.Type != "chapter" {
				continue
			}

			ch, ok := byLink[linkKey(entry.Name, entry.ID)]
			if !ok || ch.Book != "" {
				continue
			}

			ch.Book = b.Name
			ch.Shelf = b.Shelf
			b.Chapters = append(b.Chapters, ch)
		}
	}

	return chapters, nil
}

func (c *RemoteCollector) collectPages(ctx context.Context, books []*Book, chapters []*Chapter) ([]*Page, error) {
	docs, err := c.details(ctx, bookstack.Pages)
	if err != nil {
		return nil, err
	}

	pages := make([]*Page, 0, len(docs))
	byLink := make(map[Key]*Page, len(docs))

	for _, d := range docs {
		p := &Page{Name: d.Get("name").String(), Details: d}
		pages = append(pages, p)
		byLink[linkKey(p.Name, d.ID())] = p
	}

	chapterByLink := make(map[Key]*Chapter, len(chapters))
	for _, ch := range chapters {
		chapterByLink[linkKey(ch.Name, ch.Details.ID())] = ch
	}

	link := func(entry Summary, b *Book) *Page {
		p, ok := byLink[linkKey(entry.Name, entry.ID)]
		if !ok || p.Book != "" {
			return nil
		}

		p.Book = b.Name
		p.Shelf = b.Shelf

		return p
	}

	for _, b := range books {
		for _, entry := range b.Contents() {
			switch entry.Type {
			case "page":
				if p := link(entry, b); p != nil {
					b.Pages = append(b.Pages, p)
				}
			case "chapter":
				ch, ok := chapterByLink[linkKey(entry.Name, entry.ID)]
				if !ok || ch.Book != b.Name || ch.Shelf != b.Shelf {
					continue
				}

				for _, nested := range entry.Pages {
					if p := link(nested, b); p != nil {
						p.Chapter = ch.Name
						ch.Pages = append(ch.Pages, p)
					}
				}
			}
		}
	}

	return pages, nil
}
