package models

// Element categories the artifact writers treat specially.
const (
	CategoryTable         = "Table"
	CategoryPageBreak     = "PageBreak"
	CategoryHeader        = "Header"
	CategoryTitle         = "Title"
	CategoryNarrativeText = "NarrativeText"
	CategoryImage         = "Image"
)

// Element is one unit of content returned by the partitioning engine.
// Field names follow the engine's JSON wire format.
type Element struct {
	Type      string          `json:"type"`
	ElementID string          `json:"element_id"`
	Text      string          `json:"text"`
	Metadata  ElementMetadata `json:"metadata"`
}

// ElementMetadata carries positional and structural metadata for an Element.
type ElementMetadata struct {
	Filename           string       `json:"filename,omitempty"`
	PageNumber         *int         `json:"page_number,omitempty"`
	ParentID           string       `json:"parent_id,omitempty"`
	Coordinates        *Coordinates `json:"coordinates,omitempty"`
	DetectionClassProb *float64     `json:"detection_class_prob,omitempty"`
	TextAsHTML         string       `json:"text_as_html,omitempty"`
	Languages          []string     `json:"languages,omitempty"`
	ImageURL           string       `json:"image_url,omitempty"`
}

// Coordinates are pixel-space points with the layout they were measured in.
type Coordinates struct {
	Points       [][2]float64 `json:"points"`
	System       string       `json:"system"`
	LayoutWidth  float64      `json:"layout_width"`
	LayoutHeight float64      `json:"layout_height"`
}

// IsTable reports whether the element is a table fragment.
func (e Element) IsTable() bool {
	return e.Type == CategoryTable
}

// Page returns the element's page number and whether it has one.
func (e Element) Page() (int, bool) {
	if e.Metadata.PageNumber == nil {
		return 0, false
	}
	return *e.Metadata.PageNumber, true
}
