// Package bookstacktest provides an in-memory Bookstack API server for
// tests. It implements the subset of the REST API the sync engine uses:
// listing, detail reads, create, update, delete and markdown export for
// shelves, books, chapters and pages.
package bookstacktest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// Credentials accepted by a server created with New.
const (
	TokenID     = "test-token-id"
	TokenSecret = "test-token-secret"
)

// TimeFormat is the layout the server uses for created_at and updated_at.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// Tag is a Bookstack name/value tag.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Shelf is the stored state of a shelf.
type Shelf struct {
	ID        int64
	Name      string
	Books     []int64
	UpdatedAt time.Time
}

// Book is the stored state of a book.
type Book struct {
	ID        int64
	Name      string
	Tags      []Tag
	UpdatedAt time.Time
}

// Chapter is the stored state of a chapter.
type Chapter struct {
	ID        int64
	BookID    int64
	Name      string
	UpdatedAt time.Time
}

// Page is the stored state of a page.
type Page struct {
	ID        int64
	BookID    int64
	ChapterID int64
	Name      string
	Markdown  string
	Tags      []Tag
	UpdatedAt time.Time
}

// Call records one request the server handled.
type Call struct {
	Method string
	Path   string
}

// Server is an in-memory Bookstack. The zero value is not usable; call New.
type Server struct {
	mu sync.Mutex

	router http.Handler
	now    time.Time
	nextID int64

	shelves  map[int64]*Shelf
	books    map[int64]*Book
	chapters map[int64]*Chapter
	pages    map[int64]*Page

	calls []Call
}

// New returns an empty server whose clock starts at 2024-01-01 UTC.
func New() *Server {
	s := &Server{
		now:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		shelves:  make(map[int64]*Shelf),
		books:    make(map[int64]*Book),
		chapters: make(map[int64]*Chapter),
		pages:    make(map[int64]*Page),
	}

	r := chi.NewRouter()
	r.Use(s.record, s.authenticate)

	r.Get("/api/{resource}", s.list)
	r.Post("/api/{resource}", s.create)
	r.Get("/api/{resource}/{id}", s.read)
	r.Put("/api/{resource}/{id}", s.update)
	r.Delete("/api/{resource}/{id}", s.remove)
	r.Get("/api/{resource}/{id}/export/markdown", s.exportMarkdown)

	s.router = r

	return s
}

// Start serves s on a local httptest server that is closed when the
// test finishes. Returns the base URL.
func (s *Server) Start(tb testing.TB) string {
	tb.Helper()

	ts := httptest.NewServer(s)
	tb.Cleanup(ts.Close)

	return ts.URL
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// --- Clock ---

// Now returns the server's current time.
func (s *Server) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.now
}

// SetNow moves the server clock to t.
func (s *Server) SetNow(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = t.UTC()
}

// Advance moves the server clock forward by d.
func (s *Server) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = s.now.Add(d)
}

// --- Seeding ---

func (s *Server) id() int64 {
	s.nextID++
	return s.nextID
}

// AddShelf stores a shelf containing the given books and returns its id.
func (s *Server) AddShelf(name string, bookIDs ...int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.id()
	s.shelves[id] = &Shelf{ID: id, Name: name, Books: append([]int64(nil), bookIDs...), UpdatedAt: s.now}

	return id
}

// AddBook stores a book and returns its id.
func (s *Server) AddBook(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.id()
	s.books[id] = &Book{ID: id, Name: name, UpdatedAt: s.now}

	return id
}

// AddChapter stores a chapter in a book and returns its id.
func (s *Server) AddChapter(bookID int64, name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.id()
	s.chapters[id] = &Chapter{ID: id, BookID: bookID, Name: name, UpdatedAt: s.now}

	return id
}

// AddPage stores a page and returns its id. chapterID 0 places the page
// directly in the book.
func (s *Server) AddPage(bookID, chapterID int64, name, markdown string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.id()
	s.pages[id] = &Page{ID: id, BookID: bookID, ChapterID: chapterID, Name: name, Markdown: markdown, UpdatedAt: s.now}

	return id
}

// SetPageUpdated overrides a page's updated_at.
func (s *Server) SetPageUpdated(id int64, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pages[id]; ok {
		p.UpdatedAt = t.UTC()
	}
}

// --- Inspection ---

// GetShelf returns a copy of a stored shelf.
func (s *Server) GetShelf(id int64) (Shelf, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shelves[id]
	if !ok {
		return Shelf{}, false
	}

	out := *sh
	out.Books = append([]int64(nil), sh.Books...)

	return out, true
}

// GetPage returns a copy of a stored page.
func (s *Server) GetPage(id int64) (Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[id]
	if !ok {
		return Page{}, false
	}

	return *p, true
}

// FindShelf returns the first shelf with the given name.
func (s *Server) FindShelf(name string) (Shelf, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range sortedKeys(s.shelves) {
		if sh := s.shelves[id]; sh.Name == name {
			out := *sh
			out.Books = append([]int64(nil), sh.Books...)

			return out, true
		}
	}

	return Shelf{}, false
}

// FindBook returns the first book with the given name.
func (s *Server) FindBook(name string) (Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range sortedKeys(s.books) {
		if b := s.books[id]; b.Name == name {
			return *b, true
		}
	}

	return Book{}, false
}

// FindChapter returns the first chapter with the given name in a book.
func (s *Server) FindChapter(bookID int64, name string) (Chapter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range sortedKeys(s.chapters) {
		if c := s.chapters[id]; c.BookID == bookID && c.Name == name {
			return *c, true
		}
	}

	return Chapter{}, false
}

// FindPage returns the first page with the given name in a book.
func (s *Server) FindPage(bookID int64, name string) (Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range sortedKeys(s.pages) {
		if p := s.pages[id]; p.BookID == bookID && p.Name == name {
			return *p, true
		}
	}

	return Page{}, false
}

// Counts returns the number of stored shelves, books, chapters and pages.
func (s *Server) Counts() (shelves, books, chapters, pages int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.shelves), len(s.books), len(s.chapters), len(s.pages)
}

// Calls returns every request handled so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Call(nil), s.calls...)
}

// Count returns the number of handled requests with the given method
// whose path starts with prefix.
func (s *Server) Count(method, prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0

	for _, c := range s.calls {
		if c.Method == method && strings.HasPrefix(c.Path, prefix) {
			n++
		}
	}

	return n
}

// ResetCalls clears the request log.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = nil
}

// --- Middleware ---

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token "+TokenID+":"+TokenSecret {
			writeError(w, http.StatusUnauthorized, "The owner of the used API token does not have permission to make API calls")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// --- Rendering ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": msg, "code": status},
	})
}

func stamp(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

func slug(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	return keys
}

func (s *Server) shelfSummary(sh *Shelf) map[string]any {
	return map[string]any{
		"id": sh.ID, "name": sh.Name, "slug": slug(sh.Name),
		"created_at": stamp(sh.UpdatedAt), "updated_at": stamp(sh.UpdatedAt),
	}
}

func (s *Server) bookSummary(b *Book) map[string]any {
	return map[string]any{
		"id": b.ID, "name": b.Name, "slug": slug(b.Name),
		"created_at": stamp(b.UpdatedAt), "updated_at": stamp(b.UpdatedAt),
	}
}

func (s *Server) chapterSummary(c *Chapter) map[string]any {
	return map[string]any{
		"id": c.ID, "book_id": c.BookID, "name": c.Name, "slug": slug(c.Name),
		"created_at": stamp(c.UpdatedAt), "updated_at": stamp(c.UpdatedAt),
	}
}

func (s *Server) pageSummary(p *Page) map[string]any {
	return map[string]any{
		"id": p.ID, "book_id": p.BookID, "chapter_id": p.ChapterID, "name": p.Name, "slug": slug(p.Name),
		"draft": false, "created_at": stamp(p.UpdatedAt), "updated_at": stamp(p.UpdatedAt),
	}
}

func (s *Server) chapterPages(chapterID int64) []map[string]any {
	out := []map[string]any{}

	for _, id := range sortedKeys(s.pages) {
		if p := s.pages[id]; p.ChapterID == chapterID {
			out = append(out, s.pageSummary(p))
		}
	}

	return out
}

func (s *Server) shelfDetail(sh *Shelf) map[string]any {
	doc := s.shelfSummary(sh)
	books := []map[string]any{}

	for _, id := range sh.Books {
		if b, ok := s.books[id]; ok {
			books = append(books, s.bookSummary(b))
		}
	}

	doc["books"] = books

	return doc
}

func (s *Server) bookDetail(b *Book) map[string]any {
	doc := s.bookSummary(b)
	doc["tags"] = tagsOrEmpty(b.Tags)

	type entry struct {
		id  int64
		doc map[string]any
	}

	var entries []entry

	for _, id := range sortedKeys(s.chapters) {
		c := s.chapters[id]
		if c.BookID != b.ID {
			continue
		}

		cd := s.chapterSummary(c)
		cd["type"] = "chapter"
		cd["pages"] = s.chapterPages(c.ID)
		entries = append(entries, entry{id: c.ID, doc: cd})
	}

	for _, id := range sortedKeys(s.pages) {
		p := s.pages[id]
		if p.BookID != b.ID || p.ChapterID != 0 {
			continue
		}

		pd := s.pageSummary(p)
		pd["type"] = "page"
		entries = append(entries, entry{id: p.ID, doc: pd})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	contents := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		contents = append(contents, e.doc)
	}

	doc["contents"] = contents

	return doc
}

func (s *Server) chapterDetail(c *Chapter) map[string]any {
	doc := s.chapterSummary(c)
	doc["pages"] = s.chapterPages(c.ID)

	return doc
}

func (s *Server) pageDetail(p *Page) map[string]any {
	doc := s.pageSummary(p)
	doc["markdown"] = p.Markdown
	doc["html"] = ""
	doc["tags"] = tagsOrEmpty(p.Tags)

	return doc
}

func tagsOrEmpty(tags []Tag) []Tag {
	if tags == nil {
		return []Tag{}
	}

	return tags
}

// --- Handlers ---

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}

	return v
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []map[string]any

	switch chi.URLParam(r, "resource") {
	case "shelves":
		for _, id := range sortedKeys(s.shelves) {
			all = append(all, s.shelfSummary(s.shelves[id]))
		}
	case "books":
		for _, id := range sortedKeys(s.books) {
			all = append(all, s.bookSummary(s.books[id]))
		}
	case "chapters":
		for _, id := range sortedKeys(s.chapters) {
			all = append(all, s.chapterSummary(s.chapters[id]))
		}
	case "pages":
		for _, id := range sortedKeys(s.pages) {
			all = append(all, s.pageSummary(s.pages[id]))
		}
	default:
		writeError(w, http.StatusNotFound, "Unknown resource")
		return
	}

	count := queryInt(r, "count", 100)
	offset := queryInt(r, "offset", 0)

	data := []map[string]any{}

	if offset < len(all) {
		end := offset + count
		if end > len(all) {
			end = len(all)
		}

		data = all[offset:end]
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": data, "total": len(all)})
}

func (s *Server) read(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Invalid id")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch chi.URLParam(r, "resource") {
	case "shelves":
		if sh, ok := s.shelves[id]; ok {
			writeJSON(w, http.StatusOK, s.shelfDetail(sh))
			return
		}
	case "books":
		if b, ok := s.books[id]; ok {
			writeJSON(w, http.StatusOK, s.bookDetail(b))
			return
		}
	case "chapters":
		if c, ok := s.chapters[id]; ok {
			writeJSON(w, http.StatusOK, s.chapterDetail(c))
			return
		}
	case "pages":
		if p, ok := s.pages[id]; ok {
			writeJSON(w, http.StatusOK, s.pageDetail(p))
			return
		}
	}

	writeError(w, http.StatusNotFound, "Entity not found")
}

// writeBody is the union of fields accepted by create and update.
type writeBody struct {
	Name      *string `json:"name"`
	BookID    *int64  `json:"book_id"`
	ChapterID *int64  `json:"chapter_id"`
	Markdown  *string `json:"markdown"`
	Books     []int64 `json:"books"`
	Tags      []Tag   `json:"tags"`
}

func decodeBody(w http.ResponseWriter, r *http.Request) (writeBody, bool) {
	var body writeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return body, false
	}

	// Bookstack stores names with surrounding whitespace trimmed.
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		body.Name = &name
	}

	return body, true
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	if body.Name == nil || strings.TrimSpace(*body.Name) == "" {
		writeError(w, http.StatusUnprocessableEntity, "The name field is required.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch chi.URLParam(r, "resource") {
	case "shelves":
		sh := &Shelf{ID: s.id(), Name: *body.Name, Books: body.Books, UpdatedAt: s.now}
		s.shelves[sh.ID] = sh
		writeJSON(w, http.StatusOK, s.shelfDetail(sh))
	case "books":
		b := &Book{ID: s.id(), Name: *body.Name, Tags: body.Tags, UpdatedAt: s.now}
		s.books[b.ID] = b
		writeJSON(w, http.StatusOK, s.bookDetail(b))
	case "chapters":
		if body.BookID == nil || s.books[*body.BookID] == nil {
			writeError(w, http.StatusUnprocessableEntity, "The book id field is required.")
			return
		}

		c := &Chapter{ID: s.id(), BookID: *body.BookID, Name: *body.Name, UpdatedAt: s.now}
		s.chapters[c.ID] = c
		writeJSON(w, http.StatusOK, s.chapterDetail(c))
	case "pages":
		p := &Page{Name: *body.Name, Tags: body.Tags, UpdatedAt: s.now}
		if body.Markdown != nil {
			p.Markdown = *body.Markdown
		}

		if !s.place(p, body) {
			writeError(w, http.StatusUnprocessableEntity, "The book id field is required when chapter id is not present.")
			return
		}

		p.ID = s.id()
		s.pages[p.ID] = p
		writeJSON(w, http.StatusOK, s.pageDetail(p))
	default:
		writeError(w, http.StatusNotFound, "Unknown resource")
	}
}

// place sets a page's book and chapter from a request body. A chapter id
// takes precedence and implies its book.
func (s *Server) place(p *Page, body writeBody) bool {
	if body.ChapterID != nil && *body.ChapterID != 0 {
		c, ok := s.chapters[*body.ChapterID]
		if !ok {
			return false
		}

		p.BookID, p.ChapterID = c.BookID, c.ID

		return true
	}

	if body.BookID != nil {
		if _, ok := s.books[*body.BookID]; !ok {
			return false
		}

		p.BookID, p.ChapterID = *body.BookID, 0

		return true
	}

	return p.BookID != 0
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Invalid id")
		return
	}

	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch chi.URLParam(r, "resource") {
	case "shelves":
		sh, ok := s.shelves[id]
		if !ok {
			break
		}

		if body.Name != nil {
			sh.Name = *body.Name
		}

		if body.Books != nil {
			sh.Books = body.Books
		}

		sh.UpdatedAt = s.now
		writeJSON(w, http.StatusOK, s.shelfDetail(sh))

		return
	case "books":
		b, ok := s.books[id]
		if !ok {
			break
		}

		if body.Name != nil {
			b.Name = *body.Name
		}

		if body.Tags != nil {
			b.Tags = body.Tags
		}

		b.UpdatedAt = s.now
		writeJSON(w, http.StatusOK, s.bookDetail(b))

		return
	case "chapters":
		c, ok := s.chapters[id]
		if !ok {
			break
		}

		if body.Name != nil {
			c.Name = *body.Name
		}

		c.UpdatedAt = s.now
		writeJSON(w, http.StatusOK, s.chapterDetail(c))

		return
	case "pages":
		p, ok := s.pages[id]
		if !ok {
			break
		}

		if body.Name != nil {
			p.Name = *body.Name
		}

		if body.Markdown != nil {
			p.Markdown = *body.Markdown
		}

		if body.Tags != nil {
			p.Tags = body.Tags
		}

		if !s.place(p, body) {
			writeError(w, http.StatusUnprocessableEntity, "Invalid book or chapter")
			return
		}

		p.UpdatedAt = s.now
		writeJSON(w, http.StatusOK, s.pageDetail(p))

		return
	}

	writeError(w, http.StatusNotFound, "Entity not found")
}

// remove deletes an entity. Deleting a shelf leaves its books in place;
// deleting a book or chapter removes everything inside it.
func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Invalid id")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	found := false

	switch chi.URLParam(r, "resource") {
	case "shelves":
		_, found = s.shelves[id]
		delete(s.shelves, id)
	case "books":
		if _, found = s.books[id]; found {
			s.deleteBook(id)
		}
	case "chapters":
		if _, found = s.chapters[id]; found {
			s.deleteChapter(id)
		}
	case "pages":
		_, found = s.pages[id]
		delete(s.pages, id)
	}

	if !found {
		writeError(w, http.StatusNotFound, "Entity not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteBook(id int64) {
	for cid, c := range s.chapters {
		if c.BookID == id {
			s.deleteChapter(cid)
		}
	}

	for pid, p := range s.pages {
		if p.BookID == id {
			delete(s.pages, pid)
		}
	}

	for _, sh := range s.shelves {
		kept := sh.Books[:0]

		for _, b := range sh.Books {
			if b != id {
				kept = append(kept, b)
			}
		}

		sh.Books = kept
	}

	delete(s.books, id)
}

func (s *Server) deleteChapter(id int64) {
	for pid, p := range s.pages {
		if p.ChapterID == id {
			delete(s.pages, pid)
		}
	}

	delete(s.chapters, id)
}

func (s *Server) exportMarkdown(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok || chi.URLParam(r, "resource") != "pages" {
		writeError(w, http.StatusNotFound, "Invalid id")
		return
	}

	s.mu.Lock()
	p, found := s.pages[id]

	var out string
	if found {
		out = "# " + p.Name + "\n\n" + p.Markdown
	}
	s.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "Entity not found")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}
