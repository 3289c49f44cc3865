package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/bookstack-sync/internal/bookstack"
	apperrors "github.com/alexjbarnes/bookstack-sync/internal/errors"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Tolerance is how far apart the local mtime and the remote updated_at
// must be before a page's content is copied. It absorbs clock skew and
// timestamp precision differences.
const Tolerance = 5 * time.Second

// Action is the outcome of comparing one page's timestamps.
type Action int

const (
	ActionNone Action = iota
	ActionPush
	ActionPull
)

func (a Action) String() string {
	switch a {
	case ActionPush:
		return "push"
	case ActionPull:
		return "pull"
	}

	return "none"
}

// Decide compares a local mtime with a remote updated_at. The newer side
// wins only when it is newer by more than Tolerance and copying in that
// direction is enabled.
func Decide(local, remote time.Time, push, pull bool) Action {
	switch {
	case push && local.Sub(remote) > Tolerance:
		return ActionPush
	case pull && remote.Sub(local) > Tolerance:
		return ActionPull
	}

	return ActionNone
}

// UpdateContent copies page content between sides by recency. With push,
// locally newer pages overwrite their wiki page; with pull, wiki pages
// that are newer overwrite the local file. Local pages with no wiki
// counterpart are skipped.
func (s *Syncer) UpdateContent(ctx context.Context, push, pull bool) (Result, error) {
	var res Result

	if err := s.Refresh(ctx); err != nil {
		return res, err
	}

	for _, p := range s.local.Pages {
		rp := s.rem.Page(p.Key())
		if rp == nil {
			s.logger.Warn("page has no remote counterpart, skipping", slog.String("path", p.Path))
			res.Skipped++

			continue
		}

		remoteUpdated, err := rp.Details.UpdatedAt()
		if err != nil {
			return res, fmt.Errorf("%w: page %q: %w", apperrors.ErrAPIResponse, p.Path, err)
		}

		action := Decide(p.ModTime, remoteUpdated, push, pull)

		switch action {
		case ActionPush:
			err = s.pushContent(ctx, p, rp)
		case ActionPull:
			err = s.pullContent(ctx, p, rp, remoteUpdated)
		default:
			continue
		}

		if err != nil {
			return res, err
		}

		res.Updated++
	}

	return res, nil
}

func (s *Syncer) pushContent(ctx context.Context, p, rp *Page) error {
	bookID, chapterID, err := s.remoteParents(p)
	if err != nil {
		return err
	}

	// Only a leading "# <page name>" title is stripped, see stripTitle.
	markdown := stripTitle(p.Content, p.Name)

	ins, del := diffStats(rp.Details.Get("markdown").String(), string(markdown))

	doc, err := s.remote.Update(ctx, bookstack.Pages, rp.Details.ID(), pageBody(p.Name, bookID, chapterID, markdown))
	if err != nil {
		return fmt.Errorf("updating page %q: %w", p.Path, err)
	}

	if err := s.alignModTime(p, Details(doc)); err != nil {
		return err
	}

	s.logger.Info("pushed page content",
		slog.String("path", p.Path),
		slog.Int("inserted", ins),
		slog.Int("deleted", del),
	)

	return nil
}

func (s *Syncer) pullContent(ctx context.Context, p, rp *Page, updated time.Time) error {
	export, err := s.remote.ExportMarkdown(ctx, rp.Details.ID())
	if err != nil {
		return err
	}

	content := stripExportHeader(export)

	ins, del := diffStats(string(p.Content), string(content))

	if err := s.fs.WriteFile(p.Path, content, updated); err != nil {
		return err
	}

	s.logger.Info("pulled page content",
		slog.String("path", p.Path),
		slog.Int("inserted", ins),
		slog.Int("deleted", del),
	)

	return nil
}

// diffStats counts the characters inserted and deleted going from
// before to after.
func diffStats(before, after string) (inserted, deleted int) {
	dmp := diffmatchpatch.New()

	for _, d := range dmp.DiffMain(before, after, false) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += len([]rune(d.Text))
		case diffmatchpatch.DiffDelete:
			deleted += len([]rune(d.Text))
		case diffmatchpatch.DiffEqual:
		}
	}

	return inserted, deleted
}
