package reconcile

// Direction says which side a sync pass writes to.
type Direction int

const (
	// DirectionRemote pushes local entities to the wiki.
	DirectionRemote Direction = iota
	// DirectionLocal pulls wiki entities into the vault.
	DirectionLocal
)

func (d Direction) String() string {
	if d == DirectionLocal {
		return "local"
	}

	return "remote"
}

// Resolver computes missing sets between two snapshots.
//
// Names are compared leaf-only, within the parent already matched one
// level up: a book is missing if its matched shelf on the other side has
// no book of that name, and so on. When the parent itself has no match
// everything under it is missing. Two source entities sharing a leaf
// name in the same parent are both hidden by a single target entity of
// that name.
//
// Excluded shelves, and everything under them, are never reported.
type Resolver struct {
	Local    *Hierarchy
	Remote   *Hierarchy
	excluded map[string]bool
}

// NewResolver returns a Resolver ignoring the named shelves.
func NewResolver(local, remote *Hierarchy, excluded []string) Resolver {
	ex := make(map[string]bool, len(excluded))
	for _, name := range excluded {
		ex[normName(name)] = true
	}

	return Resolver{Local: local, Remote: remote, excluded: ex}
}

func (r Resolver) sides(dir Direction) (source, target *Hierarchy) {
	if dir == DirectionLocal {
		return r.Remote, r.Local
	}

	return r.Local, r.Remote
}

func (r Resolver) skip(shelf string) bool {
	return shelf != "" && r.excluded[normName(shelf)]
}

// missingByName returns the source items whose name does not appear
// among the target items.
func missingByName[T Entity](source, target []T) []T {
	names := make(map[string]struct{}, len(target))
	for _, t := range target {
		names[normName(t.String())] = struct{}{}
	}

	var out []T

	for _, s := range source {
		if _, ok := names[normName(s.String())]; !ok {
			out = append(out, s)
		}
	}

	return out
}

// Shelves returns source shelves with no same-named target shelf.
func (r Resolver) Shelves(dir Direction) []*Shelf {
	source, target := r.sides(dir)

	var out []*Shelf

	for _, s := range missingByName(source.Shelves, target.Shelves) {
		if !r.skip(s.Name) {
			out = append(out, s)
		}
	}

	return out
}

// Books returns, for every source shelf, the books its counterpart on
// the target side lacks.
func (r Resolver) Books(dir Direction) []*Book {
	source, target := r.sides(dir)

	var out []*Book

	for _, s := range source.Shelves {
		if r.skip(s.Name) {
			continue
		}

		var have []*Book
		if ts := target.Shelf(s.Key()); ts != nil {
			have = ts.Books
		}

		out = append(out, missingByName(s.Books, have)...)
	}

	return out
}

// Chapters returns, for every shelved source book, the chapters its
// counterpart on the target side lacks.
func (r Resolver) Chapters(dir Direction) []*Chapter {
	source, target := r.sides(dir)

	var out []*Chapter

	for _, b := range source.Books {
		if b.Shelf == "" || r.skip(b.Shelf) {
			continue
		}

		var have []*Chapter
		if tb := target.Book(b.Key()); tb != nil {
			have = tb.Chapters
		}

		out = append(out, missingByName(b.Chapters, have)...)
	}

	return out
}

// Pages returns, for every shelved source book and each of its chapters,
// the pages the counterpart container on the target side lacks.
func (r Resolver) Pages(dir Direction) []*Page {
	source, target := r.sides(dir)

	var out []*Page

	for _, b := range source.Books {
		if b.Shelf == "" || r.skip(b.Shelf) {
			continue
		}

		var have []*Page
		if tb := target.Book(b.Key()); tb != nil {
			have = tb.Pages
		}

		out = append(out, missingByName(b.Pages, have)...)

		for _, ch := range b.Chapters {
			var chHave []*Page
			if tc := target.Chapter(ch.Key()); tc != nil {
				chHave = tc.Pages
			}

			out = append(out, missingByName(ch.Pages, chHave)...)
		}
	}

	return out
}

// MissingSet returns the entities of one level present on the source
// side of dir and absent on the other.
func (r Resolver) MissingSet(level Level, dir Direction) []Entity {
	var out []Entity

	switch level {
	case LevelShelf:
		for _, e := range r.Shelves(dir) {
			out = append(out, e)
		}
	case LevelBook:
		for _, e := range r.Books(dir) {
			out = append(out, e)
		}
	case LevelChapter:
		for _, e := range r.Chapters(dir) {
			out = append(out, e)
		}
	case LevelPage:
		for _, e := range r.Pages(dir) {
			out = append(out, e)
		}
	}

	return out
}
