package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer() *Normalizer {
	return New(DefaultConfig())
}

func TestCanonicalizeIgnoresScriptAndStyle(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	plain := `<html><body><p>Breaking news</p></body></html>`
	noisy := `<html><head><style>p{color:red}</style></head>` +
		`<body><script>track("visit")</script><p>Breaking news</p><noscript>enable js</noscript></body></html>`

	a, err := n.Canonicalize(plain)
	require.NoError(t, err)
	b, err := n.Canonicalize(noisy)
	require.NoError(t, err)
	assert.Equal(t, a, b, "script/style content must not affect the canonical text")
}

func TestCanonicalizeDetectsTextChanges(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	a, err := n.Canonicalize(`<p>Content A</p>`)
	require.NoError(t, err)
	b, err := n.Canonicalize(`<p>Content B</p>`)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCanonicalizeExtractsAttributes(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	got, err := n.Canonicalize(`<a href="/news/1" title=" Top story ">read</a><img src="/img/x.png" alt="chart">`)
	require.NoError(t, err)

	assert.Contains(t, got, "href:/news/1")
	assert.Contains(t, got, "src:/img/x.png")
	assert.Contains(t, got, "alt:chart")
	assert.Contains(t, got, "title:Top story")
	assert.Contains(t, got, "text:read")
}

func TestCanonicalizeIsOrderInsensitive(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	a, err := n.Canonicalize(`<p>same</p><a href="/a">x</a><a href="/b">y</a>`)
	require.NoError(t, err)
	b, err := n.Canonicalize(`<p>same</p><a href="/b">y</a><a href="/a">x</a>`)
	require.NoError(t, err)

	// Link reordering swaps only attribute features, which are sorted.
	assert.Equal(t, strings.Count(a, "\n"), strings.Count(b, "\n"))
	for _, line := range strings.Split(a, "\n") {
		if strings.HasPrefix(line, "href:") {
			assert.Contains(t, b, line)
		}
	}
}

func TestCanonicalizeCollapsesWhitespace(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	a, err := n.Canonicalize("<p>hello   \n\t world</p>")
	require.NoError(t, err)
	b, err := n.Canonicalize("<p>hello world</p>")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalizeStripsNoiseSelectors(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	got, err := n.Canonicalize(`<div><div class="ad-banner">buy stuff</div>` +
		`<div class="sponsored">promo text</div><div id="main-ad-slot">more ads</div><p>article body</p></div>`)
	require.NoError(t, err)

	assert.Contains(t, got, "article body")
	assert.NotContains(t, got, "buy stuff")
	assert.NotContains(t, got, "promo text")
	assert.NotContains(t, got, "more ads")
}

func TestCanonicalizeEmptyInput(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	_, err := n.Canonicalize("   ")
	assert.ErrorIs(t, err, ErrUnparsable)
}

func TestCleanedMarkupRemovesNoise(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	got := n.CleanedMarkup(`<html><body><script>evil()</script><!-- tracker --><p>kept</p></body></html>`)

	assert.Contains(t, got, "<p>kept</p>")
	assert.NotContains(t, got, "evil()")
	assert.NotContains(t, got, "tracker")
}

func TestCleanedMarkupFallsBackToInput(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	assert.Equal(t, "", n.CleanedMarkup(""))
}

func TestParseSelector(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw string
		ok  bool
	}{
		{".ad", true},
		{"#sidebar", true},
		{"[class*='ad-']", true},
		{"iframe", true},
		{"div > p", false},
		{"p.ad:hover", false},
		{"", false},
	}
	for _, tc := range cases {
		_, ok := parseSelector(tc.raw)
		assert.Equal(t, tc.ok, ok, "selector %q", tc.raw)
	}
}
