package reconcile

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Key is the identity hash of an entity. Equal keys on the local and
// remote side mean the two entities are the same object.
type Key [sha256.Size]byte

func (k Key) String() string {
	return hex.EncodeToString(k[:8])
}

// KeyOf hashes name parts in order. Each part is NFC-normalized and
// prefixed with its byte length, so ("ab", "c") and ("a", "bc") differ.
func KeyOf(parts ...string) Key {
	h := sha256.New()

	var n [binary.MaxVarintLen64]byte

	for _, p := range parts {
		p = norm.NFC.String(p)
		h.Write(n[:binary.PutUvarint(n[:], uint64(len(p)))])
		h.Write([]byte(p))
	}

	var k Key
	copy(k[:], h.Sum(nil))

	return k
}

// ShelfKey identifies a shelf by name.
func ShelfKey(name string) Key {
	return KeyOf("shelf", name)
}

// BookKey identifies a book by name and owning shelf. An empty parent
// name means no parent; real names are never empty.
func BookKey(name, shelf string) Key {
	return KeyOf("book", shelf, name)
}

// ChapterKey identifies a chapter by name and owning book.
func ChapterKey(name, book, shelf string) Key {
	return KeyOf("chapter", shelf, book, name)
}

// PageKey identifies a page by name, owning book and owning chapter.
func PageKey(name, chapter, book, shelf string) Key {
	return KeyOf("page", shelf, book, chapter, name)
}

// linkKey pairs a remote summary with the detail record it describes.
func linkKey(name string, id int64) Key {
	return KeyOf("link", name, strconv.FormatInt(id, 10))
}

// normName is the form leaf names are compared in.
func normName(name string) string {
	return norm.NFC.String(name)
}
