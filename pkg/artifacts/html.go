package artifacts

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dtnitsch/pdf-batch-parser/models"
)

const pageCSS = `
body { font-family: Arial, sans-serif; line-height: 1.6; margin: 0; padding: 20px; }
.header, .title { font-size: 24px; font-weight: bold; margin-bottom: 20px; }
.title { font-size: 20px; }
.narrative-text { margin-bottom: 15px; }
.table-container { margin-bottom: 20px; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
th { background-color: #f2f2f2; }
.page-break { page-break-before: always; margin-top: 30px; }
.image-container { margin-bottom: 15px; }
img { max-width: 100%; height: auto; }
`

var pageTemplate = template.Must(template.New("pages").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>{{.CSS}}</style>
</head>
<body>
{{range .Pages}}{{if .LeadingBreak}}<div class="page-break"></div>
{{end}}<h1>Page {{.Number}}</h1>
{{range .Items}}{{if eq .Kind "table"}}<div class="table-container">{{if .Title}}<div class="table-title">{{.Title}}</div>{{end}}{{.TableHTML}}</div>
{{else if eq .Kind "image"}}<div class="image-container"><img src="{{.Src}}" alt="{{.Text}}" /></div>
{{else}}<div class="{{.Class}}">{{.Text}}</div>
{{end}}{{end}}{{if .TrailingBreak}}<div class="page-break"></div>
{{end}}{{end}}</body>
</html>
`))

type pageView struct {
	Number        int
	LeadingBreak  bool
	TrailingBreak bool
	Items         []itemView
}

type itemView struct {
	Kind      string
	Class     string
	Text      string
	Title     string
	Src       string
	TableHTML template.HTML
}

// groupPages buckets elements by page number. Page breaks belong to the
// highest page seen so far; elements without a page are dropped.
func groupPages(elements []models.Element, logger *slog.Logger) []pageView {
	byPage := make(map[int]*pageView)
	maxPage, seen := 0, false

	for _, el := range elements {
		if el.Type == models.CategoryPageBreak {
			if seen {
				byPage[maxPage].TrailingBreak = true
			}
			continue
		}
		p, ok := el.Page()
		if !ok {
			logger.Warn("Element has no page number, skipping", "element_id", el.ElementID)
			continue
		}
		pv, exists := byPage[p]
		if !exists {
			pv = &pageView{Number: p, LeadingBreak: p > 1}
			byPage[p] = pv
		}
		pv.Items = append(pv.Items, renderItem(el, logger))
		if !seen || p > maxPage {
			maxPage, seen = p, true
		}
	}

	pages := make([]pageView, 0, len(byPage))
	for _, pv := range byPage {
		pages = append(pages, *pv)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages
}

func renderItem(el models.Element, logger *slog.Logger) itemView {
	switch el.Type {
	case models.CategoryHeader, models.CategoryTitle:
		return itemView{Kind: "text", Class: strings.ToLower(el.Type), Text: el.Text}
	case models.CategoryNarrativeText:
		return itemView{Kind: "text", Class: "narrative-text", Text: el.Text}
	case models.CategoryTable:
		if el.Metadata.TextAsHTML == "" {
			logger.Warn("Table has no HTML content", "element_id", el.ElementID)
		}
		// Table markup comes from the engine and is embedded as-is.
		return itemView{
			Kind:      "table",
			Title:     el.Metadata.ParentID,
			TableHTML: template.HTML(el.Metadata.TextAsHTML), //nolint:gosec
		}
	case models.CategoryImage:
		return itemView{Kind: "image", Text: el.Text, Src: el.Metadata.ImageURL}
	default:
		class := strings.ToLower(el.Type)
		if class == "" {
			class = "unknown"
		}
		return itemView{Kind: "text", Class: class, Text: el.Text}
	}
}

func writePageHTML(path string, elements []models.Element, logger *slog.Logger) error {
	var buf bytes.Buffer
	data := struct {
		Title string
		CSS   template.CSS
		Pages []pageView
	}{
		Title: "Document",
		CSS:   template.CSS(pageCSS),
		Pages: groupPages(elements, logger),
	}
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render page HTML: %w", err)
	}
	if err := os.WriteFile(filepath.Clean(path), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write page HTML: %w", err)
	}
	return nil
}
