// Package langdetect tags elements with the language of their text.
package langdetect

import (
	"fmt"
	"strings"

	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/pemistahl/lingua-go"
)

// Detector picks one of a fixed set of ISO 639-3 languages.
type Detector struct {
	detector lingua.LanguageDetector
	single   string
}

// New builds a detector restricted to codes (ISO 639-3, as used for OCR).
func New(codes []string) (*Detector, error) {
	var langs []lingua.Language
	seen := make(map[lingua.Language]bool)
	for _, code := range codes {
		lang := lingua.GetLanguageFromIsoCode639_3(lingua.GetIsoCode639_3FromValue(strings.TrimSpace(code)))
		if lang == lingua.Unknown {
			return nil, fmt.Errorf("unsupported language code: %q", code)
		}
		if !seen[lang] {
			seen[lang] = true
			langs = append(langs, lang)
		}
	}

	switch len(langs) {
	case 0:
		return nil, fmt.Errorf("no languages configured")
	case 1:
		return &Detector{single: isoCode(langs[0])}, nil
	}

	d := lingua.NewLanguageDetectorBuilder().
		FromLanguages(langs...).
		WithPreloadedLanguageModels().
		Build()
	return &Detector{detector: d}, nil
}

// Detect returns the ISO 639-3 code of text.
func (d *Detector) Detect(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	if d.detector == nil {
		return d.single, true
	}
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	return isoCode(lang), true
}

// Annotate fills Languages on elements that have text but no language yet.
// It returns the number of elements tagged.
func (d *Detector) Annotate(elements []models.Element) int {
	n := 0
	for i := range elements {
		el := &elements[i]
		if len(el.Metadata.Languages) > 0 || el.Type == models.CategoryPageBreak {
			continue
		}
		if code, ok := d.Detect(el.Text); ok {
			el.Metadata.Languages = []string{code}
			n++
		}
	}
	return n
}

func isoCode(lang lingua.Language) string {
	return strings.ToLower(lang.IsoCode639_3().String())
}
