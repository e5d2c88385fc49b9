package attendees

import (
	"fmt"
	"strings"
	"unicode"
)

const fallbackName = "certificate"

// Namer assigns output file names. It is not safe for concurrent use; the
// batch assigns every name before dispatching work.
type Namer struct {
	seen map[string]struct{}
}

// NewNamer returns a Namer that never hands out any of the reserved file
// names, compared case-insensitively.
func NewNamer(reserved ...string) *Namer {
	n := &Namer{seen: make(map[string]struct{}, len(reserved))}
	for _, name := range reserved {
		n.seen[strings.ToLower(name)] = struct{}{}
	}
	return n
}

// Next returns a unique file name for name with the given extension.
// Collisions are detected case-insensitively and numbered from 2 in the
// order names are requested.
func (n *Namer) Next(name, ext string) string {
	base := Sanitize(name)
	candidate := base
	for i := 1; ; i++ {
		if i > 1 {
			candidate = fmt.Sprintf("%s_%d", base, i)
		}
		key := strings.ToLower(candidate + ext)
		if _, taken := n.seen[key]; !taken {
			n.seen[key] = struct{}{}
			return candidate + ext
		}
	}
}

// Sanitize keeps letters, digits, spaces, '-' and '_' and replaces every
// other rune with '_'. Names that sanitize to nothing become "certificate".
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.Is(unicode.Mn, r):
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), " _")
	if out == "" {
		return fallbackName
	}
	return out
}
