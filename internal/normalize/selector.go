package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

type selectorKind int

const (
	selClassContains selectorKind = iota
	selIDExact
	selAttrContains
	selTag
)

// selector is one entry of the noise-selector mini-language. This is
// deliberately not full CSS; it covers the handful of patterns the
// noise lists actually use.
type selector struct {
	kind  selectorKind
	name  string // attribute name for selAttrContains, tag for selTag
	value string
}

var attrContainsRe = regexp.MustCompile(`^\[(\w+)\*='([^']+)'\]$`)
var bareTagRe = regexp.MustCompile(`^[a-z]+$`)

// parseSelector returns false for syntax it does not support; callers
// skip such entries.
func parseSelector(raw string) (selector, bool) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "."):
		if name := raw[1:]; name != "" {
			return selector{kind: selClassContains, value: name}, true
		}
	case strings.HasPrefix(raw, "#"):
		if name := raw[1:]; name != "" {
			return selector{kind: selIDExact, value: name}, true
		}
	case attrContainsRe.MatchString(raw):
		m := attrContainsRe.FindStringSubmatch(raw)
		return selector{kind: selAttrContains, name: m[1], value: m[2]}, true
	case bareTagRe.MatchString(raw):
		return selector{kind: selTag, name: raw}, true
	}
	return selector{}, false
}

func (s selector) matches(node *html.Node) bool {
	if node.Type != html.ElementNode {
		return false
	}
	switch s.kind {
	case selClassContains:
		class, ok := attrValue(node, "class")
		return ok && strings.Contains(class, s.value)
	case selIDExact:
		id, ok := attrValue(node, "id")
		return ok && id == s.value
	case selAttrContains:
		value, ok := attrValue(node, s.name)
		return ok && strings.Contains(value, s.value)
	case selTag:
		return node.Data == s.name
	}
	return false
}
