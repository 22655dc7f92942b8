// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package document

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

func TestParseMarkedText(t *testing.T) {
	raw := "--- Page 1 ---\nTitle page\n--- Page 2 ---\nEligibility text\n--- Page 3 ---\nSafety text\n"
	doc, err := ParseMarkedText("NCT01", raw)
	require.NoError(t, err)

	assert.Equal(t, "Title page\nEligibility text\nSafety text\n", doc.Text)
	assert.NotContains(t, doc.Text, "--- Page")
	require.Len(t, doc.Pages, 3)

	assert.Equal(t, 1, doc.PageAt(strings.Index(doc.Text, "Title")))
	assert.Equal(t, 2, doc.PageAt(strings.Index(doc.Text, "Eligibility")))
	assert.Equal(t, 3, doc.PageAt(strings.Index(doc.Text, "Safety")))
}

func TestParseMarkedTextWithoutMarkers(t *testing.T) {
	doc, err := ParseMarkedText("d", "plain text only")
	require.NoError(t, err)
	assert.Equal(t, []types.PageBoundary{{Offset: 0, Page: 1}}, doc.Pages)
}

func TestParseMarkedTextEmptyPage(t *testing.T) {
	doc, err := ParseMarkedText("d", "--- Page 1 ---\n--- Page 2 ---\nbody\n")
	require.NoError(t, err)
	assert.Equal(t, []types.PageBoundary{{Offset: 0, Page: 2}}, doc.Pages)
}

func TestParseMarkedTextInvalidMarker(t *testing.T) {
	for _, raw := range []string{
		"--- Page 99999999999999999999999 ---\nbody\n",
		"--- Page 0 ---\nbody\n",
	} {
		_, err := ParseMarkedText("d", raw)
		require.Error(t, err, raw)
		assert.Contains(t, err.Error(), "invalid page marker")
	}
}

func TestParseMarkedTextEmpty(t *testing.T) {
	_, err := ParseMarkedText("d", "--- Page 1 ---\n   \n")
	assert.True(t, errors.Is(err, ErrEmptyDocument))
}

func TestLoadText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "NCT12345678.txt")
	require.NoError(t, os.WriteFile(path, []byte("--- Page 1 ---\nhello\n"), 0o644))

	doc, err := NewLoader(nil).Load(path)
	require.NoError(t, err)
	assert.Equal(t, "NCT12345678", doc.ID)
	assert.Equal(t, path, doc.Source)
	assert.Equal(t, "hello\n", doc.Text)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader(nil).Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestLoadInvalidPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o644))
	_, err := NewLoader(nil).Load(path)
	assert.Error(t, err)
}

func TestLoadHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "NCT11111111.html")
	html := `<html><head><style>p { color: red }</style><script>var x = 1;</script></head>
<body>
<h2>Eligibility Criteria</h2>
<p>Adults   aged 18
 to 75.</p>
<ul><li>ECOG 0-1</li><li>Measurable disease</li></ul>
<table><tr><td><p>Nested paragraph</p></td></tr></table>
</body></html>`
	require.NoError(t, os.WriteFile(path, []byte(html), 0o644))

	doc, err := NewLoader(nil).Load(path)
	require.NoError(t, err)
	assert.Equal(t, "NCT11111111", doc.ID)
	assert.Equal(t, "Eligibility Criteria\n\nAdults aged 18 to 75.\n\n- ECOG 0-1\n\n- Measurable disease\n\nNested paragraph", doc.Text)
	assert.Equal(t, []types.PageBoundary{{Offset: 0, Page: 1}}, doc.Pages)
	assert.NotContains(t, doc.Text, "color")
}

func TestLoadHTMLWithoutBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.htm")
	require.NoError(t, os.WriteFile(path, []byte("<html><body>Just body text</body></html>"), 0o644))

	doc, err := NewLoader(nil).Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Just body text", doc.Text)
}

func TestLoadEmptyHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.html")
	require.NoError(t, os.WriteFile(path, []byte("<html><body><script>x()</script></body></html>"), 0o644))

	_, err := NewLoader(nil).Load(path)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestLoadInvalidDOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.docx")
	require.NoError(t, os.WriteFile(path, []byte("not a zip archive"), 0o644))
	_, err := NewLoader(nil).Load(path)
	assert.Error(t, err)
}

func TestDetectMetadata(t *testing.T) {
	doc := types.Document{Text: "Protocol NCT04567890: A Phase 3 randomized study. A total of 1,200 patients will be enrolled."}
	meta := DetectMetadata(doc)
	assert.Equal(t, "NCT04567890", meta[MetaNCTID])
	assert.Equal(t, "Phase III", meta[MetaPhase])
	assert.Equal(t, "1200", meta[MetaEnrollment])
}

func TestDetectMetadataRomanPhase(t *testing.T) {
	meta := DetectMetadata(types.Document{Text: "This phase II/III trial"})
	assert.Equal(t, "Phase II/III", meta[MetaPhase])
	assert.NotContains(t, meta, MetaNCTID)
}
