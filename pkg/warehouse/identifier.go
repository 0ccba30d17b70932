package warehouse

import (
	"fmt"
	"regexp"
	"strings"
)

var unquotedIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// identPart is one dot-separated component of a qualified name.
type identPart struct {
	name   string
	quoted bool
}

// Identifier is a validated, optionally qualified object name such as
// DB.SCHEMA.TABLE. Unquoted parts must match a strict allow-list; quoted parts
// may contain anything except a double quote. Identifiers are the only way
// object names reach SQL text.
type Identifier struct {
	parts []identPart
}

// ParseIdentifier validates a one to three part object name.
func ParseIdentifier(s string) (Identifier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identifier{}, fmt.Errorf("empty identifier")
	}

	var parts []identPart
	for i := 0; i < len(s); {
		var part identPart
		if s[i] == '"' {
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				return Identifier{}, fmt.Errorf("identifier %q: unterminated quote", s)
			}
			part = identPart{name: s[i+1 : i+1+end], quoted: true}
			if part.name == "" {
				return Identifier{}, fmt.Errorf("identifier %q: empty quoted part", s)
			}
			i += end + 2
		} else {
			end := strings.IndexByte(s[i:], '.')
			if end < 0 {
				end = len(s) - i
			}
			part = identPart{name: s[i : i+end]}
			if !unquotedIdent.MatchString(part.name) {
				return Identifier{}, fmt.Errorf("identifier %q: invalid part %q", s, part.name)
			}
			i += end
		}
		parts = append(parts, part)

		if i < len(s) {
			if s[i] != '.' {
				return Identifier{}, fmt.Errorf("identifier %q: unexpected %q after part", s, s[i])
			}
			i++
			if i == len(s) {
				return Identifier{}, fmt.Errorf("identifier %q: trailing dot", s)
			}
		}
	}

	if len(parts) > 3 {
		return Identifier{}, fmt.Errorf("identifier %q: at most three parts allowed", s)
	}
	return Identifier{parts: parts}, nil
}

// MustIdentifier is ParseIdentifier for constants; it panics on invalid input.
func MustIdentifier(s string) Identifier {
	id, err := ParseIdentifier(s)
	if err != nil {
		panic(err)
	}
	return id
}

// SQL renders the identifier for the dialect. Unquoted parts are emitted as
// written so the warehouse applies its own case folding.
func (id Identifier) SQL(d Dialect) string {
	out := make([]string, len(id.parts))
	for i, p := range id.parts {
		out[i] = p.render(d)
	}
	return strings.Join(out, ".")
}

// String returns the identifier as the user wrote it.
func (id Identifier) String() string {
	out := make([]string, len(id.parts))
	for i, p := range id.parts {
		if p.quoted {
			out[i] = `"` + p.name + `"`
		} else {
			out[i] = p.name
		}
	}
	return strings.Join(out, ".")
}

// IsZero reports whether the identifier is unset.
func (id Identifier) IsZero() bool {
	return len(id.parts) == 0
}

// catalogParts returns database, schema and object names as the catalog stores
// them. Missing qualifiers are empty.
func (id Identifier) catalogParts(d Dialect) (database, schema, object string) {
	names := make([]string, len(id.parts))
	for i, p := range id.parts {
		if p.quoted {
			names[i] = p.name
		} else {
			names[i] = d.FoldCase(p.name)
		}
	}
	switch len(names) {
	case 1:
		return "", "", names[0]
	case 2:
		return "", names[0], names[1]
	default:
		return names[0], names[1], names[2]
	}
}
