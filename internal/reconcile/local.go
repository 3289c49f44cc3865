package reconcile

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"
)

// pageExt is the file extension of vault pages.
const pageExt = ".md"

// obsidianDir is the vault's configuration directory.
const obsidianDir = ".obsidian"

// Filesystem is the vault the local side lives in. Paths are slash
// separated and relative to the vault root; "" is the root itself.
type Filesystem interface {
	ListDir(relPath string) ([]fs.DirEntry, error)
	ReadFile(relPath string) ([]byte, error)
	Stat(relPath string) (os.FileInfo, error)
	WriteFile(relPath string, data []byte, mtime time.Time) error
	SetModTime(relPath string, mtime time.Time) error
	Mkdir(relPath string) error
	DeleteFile(relPath string) error
	DeleteDir(relPath string) error
}

// LocalCollector builds a Hierarchy from the vault directory tree:
// shelves are top-level directories, books their subdirectories,
// chapters the books' subdirectories, and pages .md files in books and
// chapters.
type LocalCollector struct {
	fs       Filesystem
	excluded map[string]bool
	logger   *slog.Logger
}

// NewLocalCollector returns a collector that skips the named shelves.
func NewLocalCollector(fsys Filesystem, excluded []string, logger *slog.Logger) *LocalCollector {
	ex := make(map[string]bool, len(excluded))
	for _, name := range excluded {
		ex[normName(name)] = true
	}

	return &LocalCollector{fs: fsys, excluded: ex, logger: logger}
}

// Collect walks the vault. Any filesystem error aborts the walk.
func (c *LocalCollector) Collect() (*Hierarchy, error) {
	shelves, err := c.collectShelves()
	if err != nil {
		return nil, fmt.Errorf("collecting local shelves: %w", err)
	}

	var (
		books    []*Book
		chapters []*Chapter
		pages    []*Page
	)

	for _, s := range shelves {
		for _, b := range s.Books {
			books = append(books, b)
			pages = append(pages, b.Pages...)

			for _, ch := range b.Chapters {
				chapters = append(chapters, ch)
				pages = append(pages, ch.Pages...)
			}
		}
	}

	c.logger.Debug("collected local hierarchy",
		slog.Int("shelves", len(shelves)),
		slog.Int("books", len(books)),
		slog.Int("chapters", len(chapters)),
		slog.Int("pages", len(pages)),
	)

	return newHierarchy(LocalSide, shelves, books, chapters, pages), nil
}

func (c *LocalCollector) collectShelves() ([]*Shelf, error) {
	entries, err := c.fs.ListDir("")
	if err != nil {
		return nil, err
	}

	var shelves []*Shelf

	for _, e := range entries {
		if !e.IsDir() || hidden(e.Name()) {
			continue
		}

		if c.excluded[normName(e.Name())] {
			c.logger.Debug("skipping excluded shelf", slog.String("shelf", e.Name()))
			continue
		}

		s := &Shelf{Name: e.Name(), Path: e.Name()}

		s.Books, err = c.collectBooks(s)
		if err != nil {
			return nil, err
		}

		shelves = append(shelves, s)
	}

	return shelves, nil
}

func (c *LocalCollector) collectBooks(s *Shelf) ([]*Book, error) {
	entries, err := c.fs.ListDir(s.Path)
	if err != nil {
		return nil, err
	}

	var books []*Book

	for _, e := range entries {
		if !e.IsDir() || hidden(e.Name()) {
			continue
		}

		b := &Book{Name: e.Name(), Path: path.Join(s.Path, e.Name()), Shelf: s.Name}

		children, err := c.fs.ListDir(b.Path)
		if err != nil {
			return nil, err
		}

		for _, child := range children {
			switch {
			case hidden(child.Name()):
				continue
			case child.IsDir():
				ch := &Chapter{
					Name:  child.Name(),
					Path:  path.Join(b.Path, child.Name()),
					Shelf: s.Name,
					Book:  b.Name,
				}

				ch.Pages, err = c.collectPages(ch.Path, s.Name, b.Name, ch.Name)
				if err != nil {
					return nil, err
				}

				b.Chapters = append(b.Chapters, ch)
			case isPage(child.Name()):
				p, err := c.readPage(path.Join(b.Path, child.Name()), s.Name, b.Name, "")
				if err != nil {
					return nil, err
				}

				b.Pages = append(b.Pages, p)
			}
		}

		books = append(books, b)
	}

	return books, nil
}

func (c *LocalCollector) collectPages(dir, shelf, book, chapter string) ([]*Page, error) {
	entries, err := c.fs.ListDir(dir)
	if err != nil {
		return nil, err
	}

	var pages []*Page

	for _, e := range entries {
		if e.IsDir() || hidden(e.Name()) || !isPage(e.Name()) {
			continue
		}

		p, err := c.readPage(path.Join(dir, e.Name()), shelf, book, chapter)
		if err != nil {
			return nil, err
		}

		pages = append(pages, p)
	}

	return pages, nil
}

func (c *LocalCollector) readPage(relPath, shelf, book, chapter string) (*Page, error) {
	content, err := c.fs.ReadFile(relPath)
	if err != nil {
		return nil, err
	}

	info, err := c.fs.Stat(relPath)
	if err != nil {
		return nil, err
	}

	return &Page{
		Name:    strings.TrimSuffix(path.Base(relPath), pageExt),
		Path:    relPath,
		Shelf:   shelf,
		Book:    book,
		Chapter: chapter,
		Content: content,
		ModTime: info.ModTime().UTC(),
	}, nil
}

// hidden reports whether a vault entry is skipped. This covers the
// .obsidian configuration directory and trash folders.
func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || name == obsidianDir
}

func isPage(name string) bool {
	return strings.HasSuffix(name, pageExt) && len(name) > len(pageExt)
}

// pagePath returns the vault path a page is stored at.
func pagePath(shelf, book, chapter, name string) string {
	if chapter == "" {
		return path.Join(shelf, book, name+pageExt)
	}

	return path.Join(shelf, book, chapter, name+pageExt)
}
