package reconcile

import "bytes"

// BlankLineTerminator ends a StripHeader span after the first blank line.
const BlankLineTerminator = "\n\n"

// StripHeader removes a synthesized title from markdown. It deletes the
// span from the first "#" up to the next occurrence of terminator after
// it; with inclusive, the two bytes following the start of the
// terminator are removed as well. Content with no "#", or no terminator
// after it, is returned unchanged.
func StripHeader(content []byte, terminator string, inclusive bool) []byte {
	first := bytes.IndexByte(content, '#')
	if first < 0 {
		return content
	}

	rel := bytes.Index(content[first+1:], []byte(terminator))
	if rel < 0 {
		return content
	}

	end := first + 1 + rel
	if inclusive {
		end += 2
	}

	if end > len(content) {
		end = len(content)
	}

	out := make([]byte, 0, len(content)-(end-first))
	out = append(out, content[:first]...)

	return append(out, content[end:]...)
}

// stripExportHeader removes the "# <page name>" title the wiki prepends
// to markdown exports.
func stripExportHeader(content []byte) []byte {
	return StripHeader(content, BlankLineTerminator, true)
}

// stripTitle removes an opening "# <name>" heading from a local note.
// The wiki renders the page name as the title, so pushing the heading
// would show it twice. Only a level-one heading that matches the page
// name is removed. Any other leading "#" line, such as a "#tag" line,
// is page content and is pushed as is.
func stripTitle(content []byte, name string) []byte {
	line, rest, _ := bytes.Cut(content, []byte("\n"))

	heading, ok := bytes.CutPrefix(bytes.TrimRight(line, "\r"), []byte("# "))
	if !ok || normName(string(bytes.TrimSpace(heading))) != normName(name) {
		return content
	}

	return bytes.TrimLeft(rest, "\r\n")
}
