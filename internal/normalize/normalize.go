// Package normalize reduces raw markup to the canonical feature text
// used for content fingerprinting, and produces the de-noised markup
// stored as the dom.html artifact.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// ErrUnparsable is returned when the markup cannot be parsed into a
// tree. Callers fall back to hashing the raw bytes.
var ErrUnparsable = errors.New("markup is not parsable")

// Config controls which parts of the tree count as noise.
type Config struct {
	// StripTags are removed wholesale, subtree included.
	StripTags []string `mapstructure:"strip_tags"`
	// ExtractAttrs name the attributes whose values become features.
	ExtractAttrs []string `mapstructure:"extract_attrs"`
	// NoiseSelectors remove ad/tracking containers. Supported syntax:
	// ".class" (class contains), "#id" (id exact), "[attr*='v']"
	// (attribute contains), and bare tag names. Anything else is
	// skipped.
	NoiseSelectors []string `mapstructure:"noise_selectors"`
}

// DefaultConfig mirrors the production strip/extract/noise lists.
func DefaultConfig() Config {
	return Config{
		StripTags:    []string{"script", "style", "iframe", "noscript", "meta", "link", "svg"},
		ExtractAttrs: []string{"href", "src", "alt", "title"},
		NoiseSelectors: []string{
			".ad", ".ads", ".advertisement",
			"[id*='ad-']", "[class*='ad-']",
			".sponsored", ".promo",
		},
	}
}

// Normalizer strips noise from markup and extracts canonical features.
type Normalizer struct {
	strip     map[string]struct{}
	attrs     []string
	selectors []selector
}

// New builds a Normalizer. Unsupported noise selectors are dropped
// silently; a bad selector must never break fingerprinting.
func New(cfg Config) *Normalizer {
	strip := make(map[string]struct{}, len(cfg.StripTags))
	for _, tag := range cfg.StripTags {
		strip[strings.ToLower(tag)] = struct{}{}
	}
	selectors := make([]selector, 0, len(cfg.NoiseSelectors))
	for _, raw := range cfg.NoiseSelectors {
		if sel, ok := parseSelector(raw); ok {
			selectors = append(selectors, sel)
		}
	}
	return &Normalizer{
		strip:     strip,
		attrs:     append([]string(nil), cfg.ExtractAttrs...),
		selectors: selectors,
	}
}

// Canonicalize parses the markup, removes noise, and returns the sorted
// "{kind}:{value}" feature lines whose digest is the clean hash.
func (n *Normalizer) Canonicalize(raw string) (string, error) {
	doc, err := parse(raw)
	if err != nil {
		return "", err
	}
	n.clean(doc)
	features := n.extractFeatures(doc)
	return canonicalText(features), nil
}

// CleanedMarkup returns the de-noised tree serialized back to markup.
// Best effort: if the input cannot be parsed or rendered it is returned
// unchanged.
func (n *Normalizer) CleanedMarkup(raw string) string {
	doc, err := parse(raw)
	if err != nil {
		return raw
	}
	n.clean(doc)
	var sb strings.Builder
	if err := html.Render(&sb, doc); err != nil {
		return raw
	}
	return sb.String()
}

func parse(raw string) (*html.Node, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty document", ErrUnparsable)
	}
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	return doc, nil
}

// clean removes comments, processing instructions, strip-listed tags,
// and noise-selector matches from the tree in place.
func (n *Normalizer) clean(doc *html.Node) {
	var doomed []*html.Node
	walk(doc, func(node *html.Node) bool {
		switch node.Type {
		case html.CommentNode:
			doomed = append(doomed, node)
			return false
		case html.ElementNode:
			if _, strip := n.strip[node.Data]; strip {
				doomed = append(doomed, node)
				return false
			}
			for _, sel := range n.selectors {
				if sel.matches(node) {
					doomed = append(doomed, node)
					return false
				}
			}
		}
		return true
	})
	for _, node := range doomed {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}

type feature struct {
	kind  string
	value string
}

func (n *Normalizer) extractFeatures(doc *html.Node) []feature {
	var features []feature

	var text strings.Builder
	walk(doc, func(node *html.Node) bool {
		if node.Type == html.TextNode {
			text.WriteString(node.Data)
			text.WriteByte(' ')
		}
		return true
	})
	if t := strings.TrimSpace(text.String()); t != "" {
		features = append(features, feature{kind: "text", value: t})
	}

	for _, attr := range n.attrs {
		walk(doc, func(node *html.Node) bool {
			if node.Type != html.ElementNode {
				return true
			}
			if value, ok := attrValue(node, attr); ok {
				if v := strings.TrimSpace(value); v != "" {
					features = append(features, feature{kind: attr, value: v})
				}
			}
			return true
		})
	}
	return features
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// canonicalText sorts features by (kind, value) so document-order
// shuffles do not change the fingerprint, collapses whitespace, drops
// empties, and joins the result as "{kind}:{value}" lines.
func canonicalText(features []feature) string {
	sort.Slice(features, func(i, j int) bool {
		if features[i].kind != features[j].kind {
			return features[i].kind < features[j].kind
		}
		return features[i].value < features[j].value
	})
	parts := make([]string, 0, len(features))
	for _, f := range features {
		value := strings.TrimSpace(whitespaceRe.ReplaceAllString(f.value, " "))
		if value == "" {
			continue
		}
		parts = append(parts, f.kind+":"+value)
	}
	return strings.Join(parts, "\n")
}

// walk visits node and, when fn returns true, its children.
func walk(node *html.Node, fn func(*html.Node) bool) {
	if !fn(node) {
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		walk(child, fn)
	}
}

func attrValue(node *html.Node, name string) (string, bool) {
	for _, a := range node.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}
