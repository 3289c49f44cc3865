package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alexjbarnes/bookstack-sync/internal/bookstack"
	apperrors "github.com/alexjbarnes/bookstack-sync/internal/errors"
)

// NotFoundError reports an entity with no counterpart where one was
// required.
type NotFoundError struct {
	Level Level
	Path  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no remote %s matching %q", e.Level, e.Path)
}

func (e *NotFoundError) Unwrap() error { return apperrors.ErrNotFound }

// splitItemPath validates a delete path. Shelves take one segment, books
// two, chapters three. Pages take three (Shelf/Book/Page) or four
// (Shelf/Book/Chapter/Page).
func splitItemPath(level Level, itemPath string) ([]string, error) {
	trimmed := strings.Trim(itemPath, "/")

	segs := strings.Split(trimmed, "/")
	for _, seg := range segs {
		if strings.TrimSpace(seg) == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment", apperrors.ErrInvalidPath, itemPath)
		}
	}

	var ok bool

	switch level {
	case LevelShelf:
		ok = len(segs) == 1
	case LevelBook:
		ok = len(segs) == 2
	case LevelChapter:
		ok = len(segs) == 3
	case LevelPage:
		ok = len(segs) == 3 || len(segs) == 4
	default:
		return nil, fmt.Errorf("%w: unknown item kind %s", apperrors.ErrInvalidPath, level)
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s path %q has %d segments", apperrors.ErrInvalidPath, level, itemPath, len(segs))
	}

	if level == LevelPage {
		last := len(segs) - 1
		segs[last] = strings.TrimSuffix(segs[last], pageExt)
	}

	return segs, nil
}

// Delete removes one item from both sides. The local file or directory
// goes first, then the matching remote entity. Deleting a shelf also
// deletes every book the remote shelf lists, since the wiki does not
// cascade shelf deletes.
func (s *Syncer) Delete(ctx context.Context, level Level, itemPath string) error {
	segs, err := splitItemPath(level, itemPath)
	if err != nil {
		return err
	}

	if err := s.refreshRemote(ctx); err != nil {
		return err
	}

	relPath := strings.Join(segs, "/")

	if level == LevelPage {
		err = s.fs.DeleteFile(relPath + pageExt)
	} else {
		err = s.fs.DeleteDir(relPath)
	}

	if err != nil {
		return fmt.Errorf("removing local %s %q: %w", level, relPath, err)
	}

	s.logger.Info("removed local item", slog.String("kind", level.String()), slog.String("path", relPath))

	switch level {
	case LevelShelf:
		return s.deleteShelf(ctx, segs[0])
	case LevelBook:
		b := s.rem.Book(BookKey(segs[1], segs[0]))
		if b == nil {
			return &NotFoundError{Level: level, Path: relPath}
		}

		return s.deleteRemote(ctx, bookstack.Books, b.Details.ID(), relPath)
	case LevelChapter:
		c := s.rem.Chapter(ChapterKey(segs[2], segs[1], segs[0]))
		if c == nil {
			return &NotFoundError{Level: level, Path: relPath}
		}

		return s.deleteRemote(ctx, bookstack.Chapters, c.Details.ID(), relPath)
	default:
		var key Key
		if len(segs) == 4 {
			key = PageKey(segs[3], segs[2], segs[1], segs[0])
		} else {
			key = PageKey(segs[2], "", segs[1], segs[0])
		}

		p := s.rem.Page(key)
		if p == nil {
			return &NotFoundError{Level: level, Path: relPath}
		}

		return s.deleteRemote(ctx, bookstack.Pages, p.Details.ID(), relPath)
	}
}

func (s *Syncer) deleteShelf(ctx context.Context, name string) error {
	sh := s.rem.Shelf(ShelfKey(name))
	if sh == nil {
		return &NotFoundError{Level: LevelShelf, Path: name}
	}

	if err := s.deleteRemote(ctx, bookstack.Shelves, sh.Details.ID(), name); err != nil {
		return err
	}

	for _, cb := range sh.ClientBooks {
		if err := s.deleteRemote(ctx, bookstack.Books, cb.ID, name+"/"+cb.Name); err != nil {
			return err
		}
	}

	return nil
}

func (s *Syncer) deleteRemote(ctx context.Context, res bookstack.Resource, id int64, label string) error {
	if err := s.remote.Delete(ctx, res, id); err != nil {
		return fmt.Errorf("deleting remote %q: %w", label, err)
	}

	s.logger.Info("deleted remote item", slog.String("resource", string(res)), slog.String("path", label))

	return nil
}
