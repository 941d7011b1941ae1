package message

import (
	"reflect"
	"strings"
	"unicode"
)

// NamingStrategy derives CloudEvents type names from Go types.
type NamingStrategy interface {
	TypeName(t reflect.Type) string
}

// KebabNaming converts PascalCase to dash-separated lowercase.
// Example: ModeratePostContent → "moderate-post-content"
var KebabNaming NamingStrategy = kebabNaming{}

// SnakeNaming converts PascalCase to underscore-separated lowercase.
// Example: PostCreated → "post_created"
var SnakeNaming NamingStrategy = snakeNaming{}

type kebabNaming struct{}

func (kebabNaming) TypeName(t reflect.Type) string {
	return splitPascalCase(t.Name(), "-")
}

type snakeNaming struct{}

func (snakeNaming) TypeName(t reflect.Type) string {
	return splitPascalCase(t.Name(), "_")
}

// TypeNameOf returns the type name of v under naming. Pointers are dereferenced.
func TypeNameOf(naming NamingStrategy, v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return naming.TypeName(t)
}

// QueuePrefix marks point-to-point destinations.
const QueuePrefix = "queue:"

// QueueAddress returns the destination address of a named queue.
// Example: "moderate-post-content" → "queue:moderate-post-content"
func QueueAddress(name string) string {
	return QueuePrefix + name
}

// QueueName strips the queue prefix from addr, if present.
func QueueName(addr string) string {
	return strings.TrimPrefix(addr, QueuePrefix)
}

// splitPascalCase splits a PascalCase string into lowercase words joined by sep.
// Acronyms stay together: "HTTPRequestSent" → "http-request-sent".
func splitPascalCase(s string, sep string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)

	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			if unicode.IsLower(prev) || unicode.IsDigit(prev) {
				b.WriteString(sep)
			} else if unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
				b.WriteString(sep)
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}

	return b.String()
}
