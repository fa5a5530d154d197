package htmlclean

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompact_RemovesScriptStyle(t *testing.T) {
	in := `<html><head><style>.x{}</style></head><body>
<div id="main">Hello</div>
<script>alert("hi")</script>
<noscript>enable js</noscript>
</body></html>`

	out := New(DefaultConfig()).Compact(in)

	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "<style")
	assert.NotContains(t, out, "enable js")
	assert.Contains(t, out, `id="main"`)
	assert.Contains(t, out, "Hello")
}

func TestCompact_RemovesComments(t *testing.T) {
	out := New(DefaultConfig()).Compact(`<body><!-- secret note --><p>Text</p></body>`)

	assert.NotContains(t, out, "secret note")
	assert.Contains(t, out, "<p>Text</p>")
}

func TestCompact_FiltersAttributes(t *testing.T) {
	in := `<body><a href="https://example.com" class="link" style="color:red" data-track="1" onclick="go()" aria-label="Go">Go</a></body>`

	out := New(DefaultConfig()).Compact(in)

	assert.Contains(t, out, `href="https://example.com"`)
	assert.Contains(t, out, `class="link"`)
	assert.Contains(t, out, `aria-label="Go"`)
	assert.NotContains(t, out, "style=")
	assert.NotContains(t, out, "data-track")
	assert.NotContains(t, out, "onclick")
}

func TestCompact_KeepsDataAttrsWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StripDataAttrs = false

	out := New(cfg).Compact(`<body><div data-id="42">x</div></body>`)

	assert.Contains(t, out, `data-id="42"`)
}

func TestCompact_Truncates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOutputSize = 64

	out := New(cfg).Compact("<body><p>" + strings.Repeat("a", 500) + "</p></body>")

	assert.True(t, strings.HasSuffix(out, truncationMarker))
	assert.Len(t, out, 64+len(truncationMarker))
}

func TestCompact_Empty(t *testing.T) {
	assert.Equal(t, "", New(DefaultConfig()).Compact(""))
}
