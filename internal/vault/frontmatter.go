package vault

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// Frontmatter holds parsed YAML frontmatter fields.
type Frontmatter struct {
	Tags []string `yaml:"tags"`
}

// ParseFrontmatter extracts YAML frontmatter from markdown content.
// Returns nil if no frontmatter is found or it does not parse.
func ParseFrontmatter(content []byte) *Frontmatter {
	if !bytes.HasPrefix(content, []byte("---")) {
		return nil
	}

	// Skip the rest of the opening line (could be "---\n" or "---\r\n").
	rest := content[3:]

	idx := bytes.IndexByte(rest, '\n')
	if idx < 0 {
		return nil
	}

	rest = rest[idx+1:]

	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return nil
	}

	var fm Frontmatter
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return nil
	}

	return &fm
}

// Tags returns the frontmatter tags of a note, or nil.
func Tags(content []byte) []string {
	fm := ParseFrontmatter(content)
	if fm == nil {
		return nil
	}

	return fm.Tags
}
