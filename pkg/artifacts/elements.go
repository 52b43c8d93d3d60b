package artifacts

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dtnitsch/pdf-batch-parser/models"
)

// ElementColumns is the header of the element table.
var ElementColumns = []string{
	"Page Number",
	"Element ID",
	"Parent Element",
	"Coordinates",
	"Detection Class Probability",
	"Category",
	"Text",
	"Table as HTML",
}

// ElementRecord is one entry of the metadata JSON dump.
type ElementRecord struct {
	ID                  string            `json:"id"`
	Text                string            `json:"text"`
	Category            string            `json:"category"`
	Filename            *string           `json:"filename"`
	ParentID            *string           `json:"parent_id"`
	Coordinates         *CoordinateRecord `json:"coordinates"`
	RelativeCoordinates *CoordinateRecord `json:"relative_coordinates,omitempty"`
	DetectionClassProb  *float64          `json:"detection_class_prob"`
	PageNumber          *int              `json:"page_number"`
	TextAsHTML          *string           `json:"text_as_html,omitempty"`
	Languages           []string          `json:"languages,omitempty"`
}

// CoordinateRecord is a point list with its coordinate system.
type CoordinateRecord struct {
	Points [][2]float64     `json:"points"`
	System CoordinateSystem `json:"system"`
}

// CoordinateSystem describes the space points are measured in.
// Orientation is the (x, y) axis direction: screen space grows y downward.
type CoordinateSystem struct {
	Name        string  `json:"name"`
	Orientation [2]int  `json:"orientation"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
}

var (
	screenOrientation    = [2]int{1, -1}
	cartesianOrientation = [2]int{1, 1}
)

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewElementRecord flattens an engine element for the JSON dump.
func NewElementRecord(el models.Element) ElementRecord {
	md := el.Metadata
	rec := ElementRecord{
		ID:                 el.ElementID,
		Text:               el.Text,
		Category:           el.Type,
		Filename:           optString(md.Filename),
		ParentID:           optString(md.ParentID),
		DetectionClassProb: md.DetectionClassProb,
		PageNumber:         md.PageNumber,
		Languages:          md.Languages,
	}
	if rec.Category == "" {
		rec.Category = "Unknown"
	}
	if md.Coordinates != nil && len(md.Coordinates.Points) > 0 {
		rec.Coordinates = pixelRecord(md.Coordinates)
		rec.RelativeCoordinates = relativeRecord(md.Coordinates)
	}
	if el.IsTable() {
		rec.TextAsHTML = optString(md.TextAsHTML)
	}
	return rec
}

func pixelRecord(c *models.Coordinates) *CoordinateRecord {
	name := c.System
	if name == "" {
		name = "PixelSpace"
	}
	return &CoordinateRecord{
		Points: c.Points,
		System: CoordinateSystem{Name: name, Orientation: screenOrientation, Width: c.LayoutWidth, Height: c.LayoutHeight},
	}
}

// relativeRecord scales screen points into the unit square with y growing
// upward. Without a layout size there is nothing to scale against.
func relativeRecord(c *models.Coordinates) *CoordinateRecord {
	if c.LayoutWidth <= 0 || c.LayoutHeight <= 0 {
		return nil
	}
	points := make([][2]float64, len(c.Points))
	for i, p := range c.Points {
		points[i] = [2]float64{p[0] / c.LayoutWidth, 1 - p[1]/c.LayoutHeight}
	}
	return &CoordinateRecord{
		Points: points,
		System: CoordinateSystem{Name: "RelativeCoordinateSystem", Orientation: cartesianOrientation, Width: 1, Height: 1},
	}
}

func writeMetadataJSON(path string, elements []models.Element) error {
	records := make([]ElementRecord, 0, len(elements))
	for _, el := range elements {
		records = append(records, NewElementRecord(el))
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal element metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Clean(path), data, 0644); err != nil {
		return fmt.Errorf("failed to write element metadata: %w", err)
	}
	return nil
}

// elementRow renders one element as a row of the element table.
func elementRow(el models.Element) []string {
	md := el.Metadata
	row := make([]string, len(ElementColumns))
	if p, ok := el.Page(); ok {
		row[0] = strconv.Itoa(p)
	}
	row[1] = el.ElementID
	row[2] = md.ParentID
	if md.Coordinates != nil && len(md.Coordinates.Points) > 0 {
		if pts, err := json.Marshal(md.Coordinates.Points); err == nil {
			row[3] = string(pts)
		}
	}
	if md.DetectionClassProb != nil {
		row[4] = strconv.FormatFloat(*md.DetectionClassProb, 'f', -1, 64)
	}
	row[5] = el.Type
	if row[5] == "" {
		row[5] = "Unknown"
	}
	row[6] = el.Text
	if el.IsTable() {
		row[7] = md.TextAsHTML
	}
	return row
}

func writeElementsCSV(path string, elements []models.Element) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to create element table: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(ElementColumns); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write element table header: %w", err)
	}
	for _, el := range elements {
		if err := w.Write(elementRow(el)); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write element %s: %w", el.ElementID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush element table: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close element table: %w", err)
	}
	return nil
}
