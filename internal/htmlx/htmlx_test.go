package htmlx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listing = `<html><head>
<title>Care Home for Sale | Broker</title>
<meta property="og:title" content="Care Home in Kent">
<script>var tracking = "ignore me";</script>
</head><body>
<div id="cookie-banner" class="banner modal">Accept cookies</div>
<div class="listing main">
  <h1 class="listing-title">Care Home in Kent</h1>
  <p class="ref">Ref: BB-51106</p>
  <div class="description"><p>Thirty bed home.</p><p>Freehold&nbsp;included.</p></div>
  <dl class="facts">
    <dt>Asking Price:</dt><dd>£1.2m</dd>
    <dt>Turnover</dt><dd>£750,000</dd>
  </dl>
  <table><tr><th>EBITDA</th><td>£180k</td></tr><tr><td>a</td><td>b</td><td>c</td></tr></table>
  <ul><li>Location: Kent</li><li>No label here</li></ul>
  <a class="next" href="/search?page=2">Next</a>
  <a href="/listing/9" data-id="9">Other</a>
</div>
</body></html>`

func TestFind_Selectors(t *testing.T) {
	doc := MustParse(listing)

	assert.Equal(t, "Care Home in Kent", FindText(doc, "h1.listing-title"))
	assert.Equal(t, "Care Home in Kent", FindText(doc, "div.listing h1"))
	assert.Equal(t, "Accept cookies", FindText(doc, "#cookie-banner"))
	assert.Equal(t, "Accept cookies", FindText(doc, ".banner.modal"))
	assert.Equal(t, "Other", FindText(doc, "a[data-id=9]"))
	assert.Equal(t, "Next", FindText(doc, `a[href^="/search"]`))
	assert.Equal(t, "Other", FindText(doc, "a[href$=/9]"))
	assert.Len(t, FindAll(doc, "a[href*=listing], a.next"), 2)
	assert.Nil(t, Find(doc, "section.missing"))
	assert.Len(t, FindAll(doc, "dl dt"), 2)
}

func TestText_SkipsScriptsAndCollapses(t *testing.T) {
	doc := MustParse(listing)
	assert.Equal(t, "Thirty bed home. Freehold included.", FindText(doc, ".description"))
	assert.NotContains(t, Text(doc), "ignore me")
}

func TestParagraphs(t *testing.T) {
	doc := MustParse(listing)
	assert.Equal(t, "Thirty bed home.\nFreehold included.", Paragraphs(Find(doc, ".description")))
}

func TestTitleAndMeta(t *testing.T) {
	doc := MustParse(listing)
	assert.Equal(t, "Care Home for Sale | Broker", Title(doc))
	assert.Equal(t, "Care Home in Kent", Meta(doc, "og:title"))
	assert.Empty(t, Meta(doc, "description"))

	assert.Equal(t, "Only heading", Title(MustParse("<h1>Only heading</h1>")))
}

func TestLabeled(t *testing.T) {
	doc := MustParse(listing)
	facts := Labeled(doc)
	assert.Equal(t, "£1.2m", facts["asking price"])
	assert.Equal(t, "£750,000", facts["turnover"])
	assert.Equal(t, "£180k", facts["ebitda"])
	assert.Equal(t, "Kent", facts["location"])
	assert.NotContains(t, facts, "a")
}

func TestRemove(t *testing.T) {
	doc := MustParse(listing)
	assert.Equal(t, 1, Remove(doc, "#cookie-banner, .cookie-consent"))
	assert.Nil(t, Find(doc, "#cookie-banner"))
	assert.NotContains(t, Render(doc), "Accept cookies")
}

func TestLinks(t *testing.T) {
	doc := MustParse(listing)
	assert.Equal(t, []string{"/search?page=2"}, Links(doc, "a.next"))
}

func TestParse_Empty(t *testing.T) {
	doc, err := Parse("")
	require.NoError(t, err)
	assert.Empty(t, Text(doc))
}
