package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeHTML(t *testing.T) {
	assert.True(t, LooksLikeHTML("<html><body>x</body></html>"))
	assert.True(t, LooksLikeHTML("<p>Form I-130</p>"))
	assert.False(t, LooksLikeHTML("Fee: $85 if age < 75 and > 14"))
	assert.False(t, LooksLikeHTML("# Heading\n\n- item"))
}

func TestCleanHTML(t *testing.T) {
	page := `<html><head><title> Fee
  Schedule </title><style>p{}</style></head><body>
<header>Site header</header>
<h2>Filing fees</h2>
<table>
  <tr><th>Form</th><th>Fee</th></tr>
  <tr><td>I-130</td><td>$535</td></tr>
</table>
<p>Fees are
   non-refundable.</p>
<ul><li><p>Pay online</p></li></ul>
<footer>Contact us</footer>
</body></html>`

	title, text := CleanHTML(page)

	assert.Equal(t, "Fee Schedule", title)
	assert.Equal(t, "## Filing fees\n\n| Form | Fee |\n| I-130 | $535 |\n\nFees are non-refundable.\n\n- Pay online", text)
}

func TestCleanHTML_NoBlocks(t *testing.T) {
	title, text := CleanHTML("<html><body><div>Just   text</div></body></html>")
	assert.Empty(t, title)
	assert.Equal(t, "Just text", text)
}
