package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Origin marks which side an entity was collected from.
type Origin int

const (
	LocalSide Origin = iota
	RemoteSide
)

func (o Origin) String() string {
	if o == RemoteSide {
		return "remote"
	}

	return "local"
}

// Level is one of the four hierarchy levels.
type Level int

const (
	LevelShelf Level = iota + 1
	LevelBook
	LevelChapter
	LevelPage
)

func (l Level) String() string {
	switch l {
	case LevelShelf:
		return "shelf"
	case LevelBook:
		return "book"
	case LevelChapter:
		return "chapter"
	case LevelPage:
		return "page"
	}

	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel converts "shelf", "book", "chapter" or "page" to a Level.
func ParseLevel(s string) (Level, error) {
	for _, l := range []Level{LevelShelf, LevelBook, LevelChapter, LevelPage} {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}

	return 0, fmt.Errorf("unknown item kind %q", s)
}

// Details is the raw JSON detail record of a remote entity. Empty for
// local-origin entities.
type Details []byte

// ID returns the remote id, or 0.
func (d Details) ID() int64 {
	return gjson.GetBytes(d, "id").Int()
}

// Get returns an arbitrary field.
func (d Details) Get(path string) gjson.Result {
	return gjson.GetBytes(d, path)
}

// UpdatedAt parses the updated_at timestamp.
func (d Details) UpdatedAt() (time.Time, error) {
	return parseTimestamp(gjson.GetBytes(d, "updated_at").String())
}

// parseTimestamp accepts Bookstack's "2006-01-02T15:04:05.000000Z" form.
// Fractional seconds are optional.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}

	return t.UTC(), nil
}

// Summary is a compact remote record embedded in a detail view: a
// shelf's books, or a book's contents.
type Summary struct {
	ID    int64
	Name  string
	Type  string
	Pages []Summary
}

func summaries(r gjson.Result) []Summary {
	var out []Summary

	r.ForEach(func(_, v gjson.Result) bool {
		out = append(out, Summary{
			ID:    v.Get("id").Int(),
			Name:  v.Get("name").String(),
			Type:  v.Get("type").String(),
			Pages: summaries(v.Get("pages")),
		})

		return true
	})

	return out
}

// Entity is implemented by Shelf, Book, Chapter and Page.
type Entity interface {
	Level() Level
	Key() Key
	String() string
}

// Shelf is a top-level container: a vault directory or a remote shelf.
type Shelf struct {
	Name    string
	Path    string
	Details Details
	Books   []*Book

	// ClientBooks holds the book summaries from a remote shelf's detail
	// view, before they are linked to Book values.
	ClientBooks []Summary
}

func (s *Shelf) Level() Level   { return LevelShelf }
func (s *Shelf) Key() Key       { return ShelfKey(s.Name) }
func (s *Shelf) String() string { return s.Name }

// Book belongs to at most one shelf and holds chapters and top-level pages.
type Book struct {
	Name    string
	Path    string
	Details Details

	// Shelf is the owning shelf's name, empty when unshelved.
	Shelf string

	Chapters []*Chapter
	Pages    []*Page
}

func (b *Book) Level() Level   { return LevelBook }
func (b *Book) Key() Key       { return BookKey(b.Name, b.Shelf) }
func (b *Book) String() string { return b.Name }

// Contents returns the book's remote contents listing.
func (b *Book) Contents() []Summary {
	return summaries(b.Details.Get("contents"))
}

// Chapter belongs to one book and holds pages.
type Chapter struct {
	Name    string
	Path    string
	Details Details
	Shelf   string
	Book    string
	Pages   []*Page
}

func (c *Chapter) Level() Level   { return LevelChapter }
func (c *Chapter) Key() Key       { return ChapterKey(c.Name, c.Book, c.Shelf) }
func (c *Chapter) String() string { return c.Name }

// Page is a markdown note. Name never carries the .md extension.
type Page struct {
	Name    string
	Path    string
	Details Details
	Shelf   string
	Book    string

	// Chapter is empty for pages directly inside a book.
	Chapter string

	// Content and ModTime are only set for local-origin pages.
	Content []byte
	ModTime time.Time
}

func (p *Page) Level() Level   { return LevelPage }
func (p *Page) Key() Key       { return PageKey(p.Name, p.Chapter, p.Book, p.Shelf) }
func (p *Page) String() string { return p.Name }

// Hierarchy is one side's snapshot of all four levels. It is built once
// by a collector and never modified; a refresh replaces it.
type Hierarchy struct {
	Origin   Origin
	Shelves  []*Shelf
	Books    []*Book
	Chapters []*Chapter
	Pages    []*Page

	shelfMap   map[Key]*Shelf
	bookMap    map[Key]*Book
	chapterMap map[Key]*Chapter
	pageMap    map[Key]*Page
}

func newHierarchy(origin Origin, shelves []*Shelf, books []*Book, chapters []*Chapter, pages []*Page) *Hierarchy {
	h := &Hierarchy{
		Origin:     origin,
		Shelves:    shelves,
		Books:      books,
		Chapters:   chapters,
		Pages:      pages,
		shelfMap:   make(map[Key]*Shelf, len(shelves)),
		bookMap:    make(map[Key]*Book, len(books)),
		chapterMap: make(map[Key]*Chapter, len(chapters)),
		pageMap:    make(map[Key]*Page, len(pages)),
	}

	// First entity wins when two share a key.
	for _, s := range shelves {
		if _, ok := h.shelfMap[s.Key()]; !ok {
			h.shelfMap[s.Key()] = s
		}
	}

	for _, b := range books {
		if _, ok := h.bookMap[b.Key()]; !ok {
			h.bookMap[b.Key()] = b
		}
	}

	for _, c := range chapters {
		if _, ok := h.chapterMap[c.Key()]; !ok {
			h.chapterMap[c.Key()] = c
		}
	}

	for _, p := range pages {
		if _, ok := h.pageMap[p.Key()]; !ok {
			h.pageMap[p.Key()] = p
		}
	}

	return h
}

// Shelf looks up a shelf by identity key.
func (h *Hierarchy) Shelf(k Key) *Shelf { return h.shelfMap[k] }

// Book looks up a book by identity key.
func (h *Hierarchy) Book(k Key) *Book { return h.bookMap[k] }

// Chapter looks up a chapter by identity key.
func (h *Hierarchy) Chapter(k Key) *Chapter { return h.chapterMap[k] }

// Page looks up a page by identity key.
func (h *Hierarchy) Page(k Key) *Page { return h.pageMap[k] }

// Lookup returns the entity with the same identity as e, or nil.
func (h *Hierarchy) Lookup(e Entity) Entity {
	switch e.Level() {
	case LevelShelf:
		if s := h.Shelf(e.Key()); s != nil {
			return s
		}
	case LevelBook:
		if b := h.Book(e.Key()); b != nil {
			return b
		}
	case LevelChapter:
		if c := h.Chapter(e.Key()); c != nil {
			return c
		}
	case LevelPage:
		if p := h.Page(e.Key()); p != nil {
			return p
		}
	}

	return nil
}
