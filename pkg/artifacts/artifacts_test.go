package artifacts

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func page(n int) *int { return &n }

func tableElement(id, parent string, p int, html string) models.Element {
	return models.Element{
		Type:      models.CategoryTable,
		ElementID: id,
		Metadata:  models.ElementMetadata{ParentID: parent, PageNumber: page(p), TextAsHTML: html},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteTableGroups_StitchesFragmentsAcrossPages(t *testing.T) {
	dir := t.TempDir()
	elements := []models.Element{
		tableElement("t1", "P1", 4, "<table><tr><th>Year</th><th>Revenue</th></tr><tr><td>2021</td><td>10</td></tr></table>"),
		{Type: models.CategoryNarrativeText, Text: "between", Metadata: models.ElementMetadata{PageNumber: page(5)}},
		tableElement("t2", "P1", 5, "<table><tr><td>2022</td><td>12</td></tr></table>"),
		tableElement("t3", "P1", 6, "<table><tr><td>2023</td><td>15</td></tr></table>"),
	}

	out, err := writeTableGroups(dir, elements, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Groups)
	assert.Equal(t, []string{"table_P1_pages4_5_6.html"}, out.HTMLFiles)
	assert.Equal(t, []string{
		"table_P1_page4_part1.csv",
		"table_P1_page5_part2.csv",
		"table_P1_page6_part3.csv",
	}, out.CSVFiles)

	data, err := os.ReadFile(filepath.Join(dir, out.HTMLFiles[0]))
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, "Combined Table - Parent ID: P1")
	assert.Contains(t, html, "Pages: 4, 5, 6")
	i1 := strings.Index(html, "Table Part 1 (Page 4)")
	i2 := strings.Index(html, "Table Part 2 (Page 5)")
	i3 := strings.Index(html, "Table Part 3 (Page 6)")
	require.True(t, i1 >= 0 && i2 >= 0 && i3 >= 0, "missing section heading")
	assert.True(t, i1 < i2 && i2 < i3, "sections out of order")

	first := readCSV(t, filepath.Join(dir, "table_P1_page4_part1.csv"))
	assert.Equal(t, [][]string{
		{"Year", "Revenue", "Parent ID", "Page Number"},
		{"2021", "10", "P1", "4"},
	}, first)

	second := readCSV(t, filepath.Join(dir, "table_P1_page5_part2.csv"))
	assert.Equal(t, [][]string{
		{"0", "1", "Parent ID", "Page Number"},
		{"2022", "12", "P1", "5"},
	}, second)
}

func TestWriteTableGroups_UnknownParentAndPage(t *testing.T) {
	dir := t.TempDir()
	elements := []models.Element{
		{Type: models.CategoryTable, ElementID: "a", Metadata: models.ElementMetadata{TextAsHTML: "<table><tr><td>x</td></tr></table>"}},
		{Type: models.CategoryTable, ElementID: "b", Metadata: models.ElementMetadata{PageNumber: page(2)}},
	}

	out, err := writeTableGroups(dir, elements, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"table_unknown_parent_pages2_unknown_page_0.html"}, out.HTMLFiles)
	assert.Equal(t, []string{"table_unknown_parent_pageunknown_page_0_part1.csv"}, out.CSVFiles)
}

func TestParseTable_Spans(t *testing.T) {
	html := `<table>
<thead><tr><th colspan="2">Name</th><th>Value</th></tr></thead>
<tbody>
<tr><td rowspan="2">A</td><td>a1</td><td>1</td></tr>
<tr><td>a2</td><td>2</td></tr>
<tr><td>B</td><td>b1</td></tr>
</tbody>
</table>`

	headers, rows, ok, err := parseTable(html)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"Name", "Name", "Value"}, headers)
	assert.Equal(t, [][]string{
		{"A", "a1", "1"},
		{"A", "a2", "2"},
		{"B", "b1", ""},
	}, rows)
}

func TestParseTable_NoTable(t *testing.T) {
	_, _, ok, err := parseTable("<p>not a table</p>")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGroupPages(t *testing.T) {
	elements := []models.Element{
		{Type: models.CategoryTitle, Text: "Intro", Metadata: models.ElementMetadata{PageNumber: page(1)}},
		{Type: models.CategoryPageBreak},
		{Type: models.CategoryNarrativeText, Text: "Body", Metadata: models.ElementMetadata{PageNumber: page(3)}},
		{Type: models.CategoryNarrativeText, Text: "orphan"},
		{Type: models.CategoryNarrativeText, Text: "Back", Metadata: models.ElementMetadata{PageNumber: page(2)}},
		{Type: models.CategoryPageBreak},
	}

	pages := groupPages(elements, discardLogger())
	require.Len(t, pages, 3)
	assert.Equal(t, 1, pages[0].Number)
	assert.False(t, pages[0].LeadingBreak)
	assert.True(t, pages[0].TrailingBreak)
	assert.True(t, pages[1].LeadingBreak)
	assert.False(t, pages[1].TrailingBreak)
	assert.Equal(t, 3, pages[2].Number)
	assert.True(t, pages[2].TrailingBreak)
}

func TestWritePageHTML_EscapesText(t *testing.T) {
	path := filepath.Join(t.TempDir(), MetadataHTML)
	elements := []models.Element{
		{Type: models.CategoryHeader, Text: "<script>x</script>", Metadata: models.ElementMetadata{PageNumber: page(1)}},
		tableElement("t", "P", 1, "<table><tr><td>cell</td></tr></table>"),
	}

	require.NoError(t, writePageHTML(path, elements, discardLogger()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, `<div class="header">&lt;script&gt;x&lt;/script&gt;</div>`)
	assert.Contains(t, html, "<table><tr><td>cell</td></tr></table>")
	assert.Contains(t, html, "<h1>Page 1</h1>")
}

func TestNewElementRecord_RelativeCoordinates(t *testing.T) {
	prob := 0.9
	el := models.Element{
		Type:      models.CategoryNarrativeText,
		ElementID: "e1",
		Text:      "hello",
		Metadata: models.ElementMetadata{
			PageNumber:         page(1),
			DetectionClassProb: &prob,
			Coordinates: &models.Coordinates{
				Points:      [][2]float64{{10, 20}, {110, 220}},
				System:      "PixelSpace",
				LayoutWidth: 200, LayoutHeight: 400,
			},
		},
	}

	rec := NewElementRecord(el)
	require.NotNil(t, rec.Coordinates)
	require.NotNil(t, rec.RelativeCoordinates)
	assert.InDelta(t, 0.05, rec.RelativeCoordinates.Points[0][0], 1e-9)
	assert.InDelta(t, 0.95, rec.RelativeCoordinates.Points[0][1], 1e-9)
	assert.Equal(t, [2]int{1, -1}, rec.Coordinates.System.Orientation)
	assert.Nil(t, rec.TextAsHTML)

	row := elementRow(el)
	assert.Equal(t, "1", row[0])
	assert.Equal(t, "[[10,20],[110,220]]", row[3])
	assert.Equal(t, "0.9", row[4])
	assert.Equal(t, "", row[7])
}

func TestManager_WriteAll(t *testing.T) {
	src := filepath.Join(t.TempDir(), "Acme_2023_report.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0600))
	folder := filepath.Join(t.TempDir(), "Acme", "2023")

	elements := []models.Element{
		{Type: models.CategoryTitle, ElementID: "e1", Text: "Report", Metadata: models.ElementMetadata{PageNumber: page(1)}},
		tableElement("e2", "T", 1, "<table><tr><th>a</th></tr><tr><td>1</td></tr></table>"),
	}

	res, err := NewManager(discardLogger()).WriteAll(folder, src, elements)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Elements)
	assert.Equal(t, 1, res.TableGroups)
	assert.Equal(t, 1, res.TableCSVs)
	assert.Equal(t, ElementsCSV, res.Files[len(res.Files)-1])

	for _, name := range []string{ElementsCSV, MetadataJSON, MetadataHTML, "Acme_2023_report.pdf"} {
		_, err := os.Stat(filepath.Join(folder, name))
		assert.NoError(t, err, name)
	}

	data, err := os.ReadFile(filepath.Join(folder, MetadataJSON))
	require.NoError(t, err)
	var records []ElementRecord
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)
	require.NotNil(t, records[1].TextAsHTML)

	rows := readCSV(t, filepath.Join(folder, ElementsCSV))
	require.Len(t, rows, 3)
	assert.Equal(t, ElementColumns, rows[0])
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "P1", safeName("P1"))
	assert.Equal(t, "abc-def_1", safeName("abc-def_1"))
	assert.Equal(t, "unnamed", safeName(""))
	assert.Regexp(t, `^abc_def_[0-9a-f]{8}$`, safeName("abc/def"))
	assert.Regexp(t, `^unnamed_[0-9a-f]{8}$`, safeName("///"))
	assert.NotEqual(t, safeName("a.b"), safeName("a_b"))
	assert.NotEqual(t, safeName("a.b"), safeName("a/b"))
}

func TestWriteTableGroups_SanitizedParentsDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	elements := []models.Element{
		tableElement("t1", "a.b", 1, "<table><tr><td>dot</td></tr></table>"),
		tableElement("t2", "a_b", 1, "<table><tr><td>underscore</td></tr></table>"),
	}

	out, err := writeTableGroups(dir, elements, discardLogger())
	require.NoError(t, err)
	require.Len(t, out.HTMLFiles, 2)
	require.Len(t, out.CSVFiles, 2)
	assert.NotEqual(t, out.HTMLFiles[0], out.HTMLFiles[1])
	assert.Equal(t, "table_a_b_page1_part1.csv", out.CSVFiles[1])

	dot := readCSV(t, filepath.Join(dir, out.CSVFiles[0]))
	assert.Equal(t, []string{"dot", "a.b", "1"}, dot[1])
	underscore := readCSV(t, filepath.Join(dir, out.CSVFiles[1]))
	assert.Equal(t, []string{"underscore", "a_b", "1"}, underscore[1])
}

func TestParseTable_SpansAreClamped(t *testing.T) {
	headers, rows, ok, err := parseTable(`<table><tr><td colspan="20000000">x</td></tr><tr><td rowspan="99999999">y</td></tr></table>`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, headers, maxColspan)
	require.Len(t, rows, 2)
	assert.Len(t, rows[0], maxColspan)
	assert.Equal(t, "y", rows[1][0])
}

func TestParseTable_TooWideIsMalformed(t *testing.T) {
	cell := fmt.Sprintf(`<td colspan="%d">x</td>`, maxColspan)
	html := "<table><tr>" + strings.Repeat(cell, maxTableColumns/maxColspan+1) + "</tr></table>"

	_, _, _, err := parseTable(html)
	assert.ErrorIs(t, err, errMalformedTable)
}

func TestWriteTableGroups_SkipsMalformedFragment(t *testing.T) {
	dir := t.TempDir()
	cell := fmt.Sprintf(`<td colspan="%d">x</td>`, maxColspan)
	wide := "<table><tr>" + strings.Repeat(cell, maxTableColumns/maxColspan+1) + "</tr></table>"
	elements := []models.Element{
		tableElement("t1", "P1", 1, wide),
		tableElement("t2", "P1", 2, "<table><tr><td>ok</td></tr></table>"),
	}

	out, err := writeTableGroups(dir, elements, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"table_P1_page2_part2.csv"}, out.CSVFiles)
	assert.Equal(t, []string{"table_P1_pages1_2.html"}, out.HTMLFiles)
}
