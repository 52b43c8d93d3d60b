package artifacts

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dtnitsch/pdf-batch-parser/models"
)

const (
	unknownParent = "unknown_parent"

	// Span limits match what browsers accept.
	maxColspan = 1000
	maxRowspan = 65534

	// maxTableColumns and maxTableCells bound the size of a parsed table.
	maxTableColumns = 10000
	maxTableCells   = 1000000
)

// errMalformedTable marks a fragment whose HTML cannot become a CSV. The
// fragment is skipped and the rest of the document is still written.
var errMalformedTable = errors.New("malformed table")

type tableFragment struct {
	Index int
	Label string
	HTML  string
}

type tableGroup struct {
	ParentID  string
	Fragments []tableFragment
}

type tableOutput struct {
	Groups    int
	HTMLFiles []string
	CSVFiles  []string
}

// groupTables collects table elements by parent id, keeping the order in
// which parents first appear.
func groupTables(elements []models.Element) []*tableGroup {
	var order []*tableGroup
	byParent := make(map[string]*tableGroup)

	for _, el := range elements {
		if !el.IsTable() {
			continue
		}
		parent := el.Metadata.ParentID
		if parent == "" {
			parent = unknownParent
		}
		g, ok := byParent[parent]
		if !ok {
			g = &tableGroup{ParentID: parent}
			byParent[parent] = g
			order = append(order, g)
		}
		i := len(g.Fragments)
		label := fmt.Sprintf("unknown_page_%d", i)
		if p, ok := el.Page(); ok {
			label = strconv.Itoa(p)
		}
		g.Fragments = append(g.Fragments, tableFragment{Index: i, Label: label, HTML: el.Metadata.TextAsHTML})
	}
	return order
}

// sortedLabels returns the distinct page labels of g, numeric pages first in
// numeric order, then unknown labels.
func (g *tableGroup) sortedLabels() []string {
	seen := make(map[string]bool)
	var labels []string
	for _, f := range g.Fragments {
		if !seen[f.Label] {
			seen[f.Label] = true
			labels = append(labels, f.Label)
		}
	}
	sort.SliceStable(labels, func(i, j int) bool {
		a, aErr := strconv.Atoi(labels[i])
		b, bErr := strconv.Atoi(labels[j])
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		default:
			return labels[i] < labels[j]
		}
	})
	return labels
}

var combinedTemplate = template.Must(template.New("combined").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Combined Table - Parent ID: {{.ParentID}}</title>
<style>
table { border-collapse: collapse; width: 100%; margin-bottom: 20px; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
th { background-color: #f2f2f2; }
</style>
</head>
<body>
<h1>Combined Table - Parent ID: {{.ParentID}}</h1>
<p>Pages: {{.Pages}}</p>
{{range .Sections}}<h2>Table Part {{.Part}} (Page {{.Label}})</h2>
{{.HTML}}
{{end}}</body>
</html>
`))

type combinedSection struct {
	Part  int
	Label string
	HTML  template.HTML
}

func writeTableGroups(folder string, elements []models.Element, logger *slog.Logger) (*tableOutput, error) {
	out := &tableOutput{}
	for _, g := range groupTables(elements) {
		parent := safeName(g.ParentID)
		labels := g.sortedLabels()

		var sections []combinedSection
		for _, f := range g.Fragments {
			if f.HTML == "" {
				logger.Warn("Table fragment has no HTML, skipping", "parent_id", g.ParentID, "page", f.Label)
				continue
			}
			sections = append(sections, combinedSection{
				Part:  f.Index + 1,
				Label: f.Label,
				HTML:  template.HTML(f.HTML), //nolint:gosec
			})

			name := fmt.Sprintf("table_%s_page%s_part%d.csv", parent, f.Label, f.Index+1)
			ok, err := writeFragmentCSV(filepath.Join(folder, name), f, g.ParentID)
			if errors.Is(err, errMalformedTable) {
				logger.Warn("Skipping malformed table fragment", "parent_id", g.ParentID, "page", f.Label, "error", err)
				continue
			}
			if err != nil {
				return nil, err
			}
			if !ok {
				logger.Warn("No table found in fragment", "parent_id", g.ParentID, "page", f.Label)
				continue
			}
			out.CSVFiles = append(out.CSVFiles, name)
		}

		var buf bytes.Buffer
		err := combinedTemplate.Execute(&buf, struct {
			ParentID string
			Pages    string
			Sections []combinedSection
		}{g.ParentID, strings.Join(labels, ", "), sections})
		if err != nil {
			return nil, fmt.Errorf("failed to render combined table %s: %w", g.ParentID, err)
		}

		name := fmt.Sprintf("table_%s_pages%s.html", parent, strings.Join(labels, "_"))
		if err := os.WriteFile(filepath.Join(folder, name), buf.Bytes(), 0644); err != nil {
			return nil, fmt.Errorf("failed to write combined table: %w", err)
		}
		out.HTMLFiles = append(out.HTMLFiles, name)
		out.Groups++
	}
	return out, nil
}

// writeFragmentCSV writes the first table in the fragment. It reports false
// when the fragment holds no table.
func writeFragmentCSV(path string, f tableFragment, parentID string) (bool, error) {
	headers, rows, ok, err := parseTable(f.HTML)
	if err != nil || !ok {
		return false, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append(headers, "Parent ID", "Page Number")); err != nil {
		return false, fmt.Errorf("failed to write table header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(append(row, parentID, f.Label)); err != nil {
			return false, fmt.Errorf("failed to write table row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return false, fmt.Errorf("failed to flush table csv: %w", err)
	}
	if err := os.WriteFile(filepath.Clean(path), buf.Bytes(), 0644); err != nil {
		return false, fmt.Errorf("failed to write table csv: %w", err)
	}
	return true, nil
}

// parseTable reads the first <table> in fragment into a header and body
// rows of equal width. Spanning cells are repeated across the cells they
// cover. Without header cells the columns are numbered from 0.
func parseTable(fragment string) ([]string, [][]string, bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, nil, false, fmt.Errorf("%w: %v", errMalformedTable, err)
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, nil, false, nil
	}

	var headerRows, bodyRows [][]string
	grid := newSpanGrid()
	inHeader := true
	cellCount := 0
	var placeErr error
	table.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		if tr.Closest("table").Get(0) != table.Get(0) {
			return true
		}
		cells := tr.ChildrenFiltered("th,td")
		isHeader := tr.ParentsFiltered("thead").Length() > 0 ||
			(inHeader && cells.Length() > 0 && cells.Length() == cells.Filter("th").Length())
		row, err := grid.place(cells)
		if err != nil {
			placeErr = err
			return false
		}
		if cellCount += len(row); cellCount > maxTableCells {
			placeErr = fmt.Errorf("%w: more than %d cells", errMalformedTable, maxTableCells)
			return false
		}
		if isHeader && inHeader {
			headerRows = append(headerRows, row)
			return true
		}
		inHeader = false
		bodyRows = append(bodyRows, row)
		return true
	})
	if placeErr != nil {
		return nil, nil, false, placeErr
	}

	width := 0
	for _, r := range append(headerRows, bodyRows...) {
		width = max(width, len(r))
	}
	if width == 0 {
		return nil, nil, false, nil
	}

	headers := make([]string, width)
	if len(headerRows) == 0 {
		for i := range headers {
			headers[i] = strconv.Itoa(i)
		}
	} else {
		// Stacked header rows collapse into one label per column.
		for i := range headers {
			var parts []string
			for _, hr := range headerRows {
				if i < len(hr) && hr[i] != "" && (len(parts) == 0 || parts[len(parts)-1] != hr[i]) {
					parts = append(parts, hr[i])
				}
			}
			headers[i] = strings.Join(parts, " ")
		}
	}

	for i := range bodyRows {
		for len(bodyRows[i]) < width {
			bodyRows[i] = append(bodyRows[i], "")
		}
	}
	return headers, bodyRows, true, nil
}

// spanGrid tracks cells carried into later rows by rowspan.
type spanGrid struct {
	pending map[int]spanCell
}

type spanCell struct {
	text string
	left int
}

func newSpanGrid() *spanGrid {
	return &spanGrid{pending: make(map[int]spanCell)}
}

// place lays out one row. Rows wider than maxTableColumns are rejected.
func (g *spanGrid) place(cells *goquery.Selection) ([]string, error) {
	var row []string
	col := 0
	fill := func() {
		for {
			sc, ok := g.pending[col]
			if !ok {
				return
			}
			row = append(row, sc.text)
			if sc.left--; sc.left == 0 {
				delete(g.pending, col)
			} else {
				g.pending[col] = sc
			}
			col++
		}
	}

	tooWide := false
	cells.EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		fill()
		colspan := spanAttr(cell, "colspan", maxColspan)
		if col+colspan > maxTableColumns {
			tooWide = true
			return false
		}
		text := normalizeText(cell.Text())
		rowspan := spanAttr(cell, "rowspan", maxRowspan)
		for k := 0; k < colspan; k++ {
			row = append(row, text)
			if rowspan > 1 {
				g.pending[col] = spanCell{text: text, left: rowspan - 1}
			}
			col++
		}
		return true
	})
	if !tooWide {
		fill()
	}
	if tooWide || col > maxTableColumns {
		return nil, fmt.Errorf("%w: row wider than %d columns", errMalformedTable, maxTableColumns)
	}
	return row, nil
}

// spanAttr reads a colspan or rowspan, clamped to [1, limit].
func spanAttr(cell *goquery.Selection, name string, limit int) int {
	v, ok := cell.Attr(name)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 1
	}
	return min(n, limit)
}

func normalizeText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(line)
		}
	}
	return b.String()
}
