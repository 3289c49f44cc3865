// Package reconcile keeps an Obsidian vault and a Bookstack wiki in
// step. Both sides are collected into the same four-level hierarchy
// (shelf, book, chapter, page), compared level by level, and the missing
// objects created on the side being synced to.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alexjbarnes/bookstack-sync/internal/bookstack"
	apperrors "github.com/alexjbarnes/bookstack-sync/internal/errors"
	"github.com/alexjbarnes/bookstack-sync/internal/vault"
)

// Options configures a Syncer.
type Options struct {
	// Excluded shelves are neither collected locally nor synced.
	Excluded []string

	// FetchConcurrency bounds remote detail requests in flight.
	FetchConcurrency int

	Logger *slog.Logger
}

// Result counts what a pass changed.
type Result struct {
	Created int
	Updated int
	Skipped int
}

// Syncer runs sync, update and delete passes. It holds the latest local
// and remote snapshots; each refresh replaces them.
type Syncer struct {
	fs       Filesystem
	remote   Remote
	excluded []string
	logger   *slog.Logger

	localCollector  *LocalCollector
	remoteCollector *RemoteCollector

	local *Hierarchy
	rem   *Hierarchy
}

// NewSyncer returns a Syncer over a vault and a wiki API.
func NewSyncer(fsys Filesystem, remote Remote, opts Options) *Syncer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Syncer{
		fs:              fsys,
		remote:          remote,
		excluded:        opts.Excluded,
		logger:          logger,
		localCollector:  NewLocalCollector(fsys, opts.Excluded, logger),
		remoteCollector: NewRemoteCollector(remote, opts.FetchConcurrency, logger),
	}
}

// Snapshots returns the most recently collected hierarchies. Either is
// nil before the first refresh of that side.
func (s *Syncer) Snapshots() (local, remote *Hierarchy) {
	return s.local, s.rem
}

// Refresh re-collects both sides, remote first.
func (s *Syncer) Refresh(ctx context.Context) error {
	if err := s.refreshRemote(ctx); err != nil {
		return err
	}

	return s.refreshLocal()
}

func (s *Syncer) refreshLocal() error {
	h, err := s.localCollector.Collect()
	if err != nil {
		return err
	}

	s.local = h

	return nil
}

func (s *Syncer) refreshRemote(ctx context.Context) error {
	h, err := s.remoteCollector.Collect(ctx)
	if err != nil {
		return err
	}

	s.rem = h

	return nil
}

func (s *Syncer) resolver() Resolver {
	return NewResolver(s.local, s.rem, s.excluded)
}

// SyncRemote creates on the wiki every shelf, book, chapter and page
// that exists only in the vault. Each level is created from a fresh
// remote snapshot so parents carry their server-assigned ids.
func (s *Syncer) SyncRemote(ctx context.Context) (Result, error) {
	var res Result

	if err := s.Refresh(ctx); err != nil {
		return res, err
	}

	for _, sh := range s.resolver().Shelves(DirectionRemote) {
		if !s.remoteNamesOK(sh.Name) {
			res.Skipped++
			continue
		}

		if _, err := s.remote.Create(ctx, bookstack.Shelves, map[string]any{"name": sh.Name}); err != nil {
			return res, fmt.Errorf("creating shelf %q: %w", sh.Name, err)
		}

		s.logger.Info("created remote shelf", slog.String("shelf", sh.Name))
		res.Created++
	}

	// Books can only join a shelf through a shelf update, so they are
	// created unshelved and attached below. A same-named unshelved book
	// already on the wiki is attached instead of duplicated.
	pool := newUnshelvedPool(s.rem.Books)

	for _, b := range s.resolver().Books(DirectionRemote) {
		if !s.remoteNamesOK(b.Shelf, b.Name) {
			res.Skipped++
			continue
		}

		if pool.take(b.Name) != nil {
			s.logger.Debug("reusing unshelved remote book", slog.String("book", b.Name))
			continue
		}

		if _, err := s.remote.Create(ctx, bookstack.Books, map[string]any{"name": b.Name}); err != nil {
			return res, fmt.Errorf("creating book %q: %w", b.Name, err)
		}

		s.logger.Info("created remote book", slog.String("shelf", b.Shelf), slog.String("book", b.Name))
		res.Created++
	}

	if err := s.Refresh(ctx); err != nil {
		return res, err
	}

	if err := s.attachBooks(ctx); err != nil {
		return res, err
	}

	if err := s.refreshRemote(ctx); err != nil {
		return res, err
	}

	for _, ch := range s.resolver().Chapters(DirectionRemote) {
		if !s.remoteNamesOK(ch.Shelf, ch.Book, ch.Name) {
			res.Skipped++
			continue
		}

		rb := s.rem.Book(BookKey(ch.Book, ch.Shelf))
		if rb == nil {
			return res, &NotFoundError{Level: LevelBook, Path: ch.Shelf + "/" + ch.Book}
		}

		body := map[string]any{"book_id": rb.Details.ID(), "name": ch.Name}
		if _, err := s.remote.Create(ctx, bookstack.Chapters, body); err != nil {
			return res, fmt.Errorf("creating chapter %q: %w", ch.Name, err)
		}

		s.logger.Info("created remote chapter", slog.String("book", ch.Book), slog.String("chapter", ch.Name))
		res.Created++
	}

	if err := s.refreshRemote(ctx); err != nil {
		return res, err
	}

	for _, p := range s.resolver().Pages(DirectionRemote) {
		if !s.remoteNamesOK(pageNames(p)...) {
			res.Skipped++
			continue
		}

		if err := s.createRemotePage(ctx, p); err != nil {
			return res, err
		}

		res.Created++
	}

	return res, nil
}

// attachBooks adds unshelved remote books to the shelves their local
// counterparts live on.
func (s *Syncer) attachBooks(ctx context.Context) error {
	pool := newUnshelvedPool(s.rem.Books)

	for _, ls := range s.local.Shelves {
		if !wikiName(ls.Name) {
			continue
		}

		rs := s.rem.Shelf(ls.Key())
		if rs == nil {
			return &NotFoundError{Level: LevelShelf, Path: ls.Name}
		}

		var add []int64

		for _, b := range missingByName(ls.Books, rs.Books) {
			if !wikiName(b.Name) {
				continue
			}

			rb := pool.take(b.Name)
			if rb == nil {
				s.logger.Warn("no unshelved remote book to attach",
					slog.String("shelf", ls.Name),
					slog.String("book", b.Name),
				)

				continue
			}

			add = append(add, rb.Details.ID())
		}

		if len(add) == 0 {
			continue
		}

		ids := make([]int64, 0, len(rs.ClientBooks)+len(add))
		for _, cb := range rs.ClientBooks {
			ids = append(ids, cb.ID)
		}

		ids = append(ids, add...)

		body := map[string]any{"name": rs.Name, "books": ids}
		if _, err := s.remote.Update(ctx, bookstack.Shelves, rs.Details.ID(), body); err != nil {
			return fmt.Errorf("updating books of shelf %q: %w", rs.Name, err)
		}

		s.logger.Info("attached books to shelf", slog.String("shelf", rs.Name), slog.Int("books", len(add)))
	}

	return nil
}

func (s *Syncer) createRemotePage(ctx context.Context, p *Page) error {
	bookID, chapterID, err := s.remoteParents(p)
	if err != nil {
		return err
	}

	body := pageBody(p.Name, bookID, chapterID, p.Content)

	doc, err := s.remote.Create(ctx, bookstack.Pages, body)
	if err != nil {
		return fmt.Errorf("creating page %q: %w", p.Path, err)
	}

	if err := s.alignModTime(p, Details(doc)); err != nil {
		return err
	}

	s.logger.Info("created remote page", slog.String("path", p.Path))

	return nil
}

// remoteParents resolves the remote book id and, for chapter pages, the
// chapter id a local page belongs under.
func (s *Syncer) remoteParents(p *Page) (bookID, chapterID int64, err error) {
	rb := s.rem.Book(BookKey(p.Book, p.Shelf))
	if rb == nil {
		return 0, 0, &NotFoundError{Level: LevelBook, Path: p.Shelf + "/" + p.Book}
	}

	if p.Chapter == "" {
		return rb.Details.ID(), 0, nil
	}

	rc := s.rem.Chapter(ChapterKey(p.Chapter, p.Book, p.Shelf))
	if rc == nil {
		return 0, 0, &NotFoundError{Level: LevelChapter, Path: p.Shelf + "/" + p.Book + "/" + p.Chapter}
	}

	return rb.Details.ID(), rc.Details.ID(), nil
}

// alignModTime sets a local page's mtime to the remote updated_at so the
// next update pass sees both sides as equally recent.
func (s *Syncer) alignModTime(p *Page, doc Details) error {
	updated, err := doc.UpdatedAt()
	if err != nil {
		return fmt.Errorf("%w: page %q: %w", apperrors.ErrAPIResponse, p.Path, err)
	}

	return s.fs.SetModTime(p.Path, updated)
}

// SyncLocal creates in the vault every shelf, book, chapter and page
// that exists only on the wiki. Pages are written from their markdown
// export with the generated title removed.
func (s *Syncer) SyncLocal(ctx context.Context) (Result, error) {
	var res Result

	if err := s.Refresh(ctx); err != nil {
		return res, err
	}

	for _, b := range s.rem.Books {
		if b.Shelf == "" {
			s.logger.Warn("skipping unshelved remote book", slog.String("book", b.Name))
		}
	}

	r := s.resolver()

	var dirs [][]string

	for _, sh := range r.Shelves(DirectionLocal) {
		dirs = append(dirs, []string{sh.Name})
	}

	for _, b := range r.Books(DirectionLocal) {
		dirs = append(dirs, []string{b.Shelf, b.Name})
	}

	for _, ch := range r.Chapters(DirectionLocal) {
		dirs = append(dirs, []string{ch.Shelf, ch.Book, ch.Name})
	}

	for _, parts := range dirs {
		if !s.localNamesOK(parts...) {
			res.Skipped++
			continue
		}

		dir := strings.Join(parts, "/")
		if err := s.fs.Mkdir(dir); err != nil {
			return res, err
		}

		s.logger.Info("created local directory", slog.String("path", dir))
		res.Created++
	}

	if err := s.refreshLocal(); err != nil {
		return res, err
	}

	for _, p := range s.resolver().Pages(DirectionLocal) {
		if !s.localNamesOK(pageNames(p)...) {
			res.Skipped++
			continue
		}

		relPath := pagePath(p.Shelf, p.Book, p.Chapter, p.Name)

		if err := s.createLocalPage(ctx, p, relPath); err != nil {
			return res, err
		}

		res.Created++
	}

	return res, nil
}

func (s *Syncer) createLocalPage(ctx context.Context, p *Page, relPath string) error {
	updated, err := p.Details.UpdatedAt()
	if err != nil {
		return fmt.Errorf("%w: page %q: %w", apperrors.ErrAPIResponse, p.Name, err)
	}

	content, err := s.remote.ExportMarkdown(ctx, p.Details.ID())
	if err != nil {
		return err
	}

	if err := s.fs.WriteFile(relPath, stripExportHeader(content), updated); err != nil {
		return err
	}

	s.logger.Info("created local page", slog.String("path", relPath))

	return nil
}

// localNamesOK rejects remote names that cannot round-trip through the
// vault: empty names, names with path separators, and names the local
// collector would skip as hidden.
func (s *Syncer) localNamesOK(names ...string) bool {
	for _, name := range names {
		if strings.TrimSpace(name) == "" || hidden(name) || strings.ContainsAny(name, "/\\") {
			s.logger.Warn("skipping remote item with unusable local name",
				slog.String("path", strings.Join(names, "/")),
			)

			return false
		}
	}

	return true
}

// remoteNamesOK rejects local names the wiki would store differently.
// The wiki trims surrounding whitespace, so such an item never matches
// its own counterpart and would be created again on every pass.
func (s *Syncer) remoteNamesOK(names ...string) bool {
	for _, name := range names {
		if !wikiName(name) {
			s.logger.Warn("skipping local item with name the wiki would alter",
				slog.String("path", strings.Join(names, "/")),
			)

			return false
		}
	}

	return true
}

func wikiName(name string) bool {
	return name != "" && strings.TrimSpace(name) == name
}

// pageNames is the name of a page and of each of its containers.
func pageNames(p *Page) []string {
	if p.Chapter == "" {
		return []string{p.Shelf, p.Book, p.Name}
	}

	return []string{p.Shelf, p.Book, p.Chapter, p.Name}
}

// unshelvedPool hands out remote books that are on no shelf, by name,
// each at most once.
type unshelvedPool map[string][]*Book

func newUnshelvedPool(books []*Book) unshelvedPool {
	pool := make(unshelvedPool)

	for _, b := range books {
		if b.Shelf == "" {
			pool[normName(b.Name)] = append(pool[normName(b.Name)], b)
		}
	}

	return pool
}

func (p unshelvedPool) take(name string) *Book {
	key := normName(name)

	books := p[key]
	if len(books) == 0 {
		return nil
	}

	p[key] = books[1:]

	return books[0]
}

type tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// pageBody builds a page create or update request. Frontmatter tags are
// sent as wiki tags.
func pageBody(name string, bookID, chapterID int64, content []byte) map[string]any {
	body := map[string]any{
		"book_id":  bookID,
		"name":     name,
		"markdown": string(content),
	}

	if chapterID != 0 {
		body["chapter_id"] = chapterID
	}

	if names := vault.Tags(content); len(names) > 0 {
		tags := make([]tag, 0, len(names))
		for _, n := range names {
			tags = append(tags, tag{Name: n})
		}

		body["tags"] = tags
	}

	return body
}
