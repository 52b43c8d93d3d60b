// Package classifier derives the canonical identity and output folder of an input file.
package classifier

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// NoYear is used when a filename carries no underscore-delimited year.
	NoYear = "0000"
	// UnknownEntity is used by Strict when nothing precedes the year token.
	UnknownEntity = "Unknown"
)

// Strategy names the entity extraction rule. A run must use exactly one.
type Strategy string

const (
	// Legacy takes the filename prefix before the first underscore.
	Legacy Strategy = "legacy"
	// Strict takes everything before the year token, underscores as spaces.
	Strict Strategy = "strict"
)

var yearToken = regexp.MustCompile(`_(\d{4})_`)

// ParseStrategy maps a config value to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(name))) {
	case Legacy:
		return Legacy, nil
	case Strict:
		return Strict, nil
	}
	return "", fmt.Errorf("unknown classifier strategy: %q", name)
}

// Identity is the (entity, year) pair a file resolves to.
type Identity struct {
	Entity string
	Year   string
}

// Key is the output folder name for the identity.
func (id Identity) Key() string {
	return id.Entity + "_" + id.Year
}

// Classifier binds a Strategy to an output root.
type Classifier struct {
	strategy Strategy
	baseDir  string
}

// New returns a Classifier writing under baseDir.
func New(strategy Strategy, baseDir string) *Classifier {
	return &Classifier{strategy: strategy, baseDir: baseDir}
}

// Strategy returns the rule this classifier applies.
func (c *Classifier) Strategy() Strategy {
	return c.strategy
}

// Classify derives the identity of path. It never fails.
func (c *Classifier) Classify(path string) Identity {
	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	id := Identity{Year: ExtractYear(name)}
	switch c.strategy {
	case Strict:
		id.Entity = strictEntity(name, stem)
		if id.Entity == "" {
			id.Entity = UnknownEntity
		}
	default:
		// An empty prefix stays empty so "_2023_x.pdf" lands in "_2023".
		id.Entity = legacyEntity(stem)
	}
	return id
}

// OutputFolder returns base_output_dir/{entity}_{year} for path.
func (c *Classifier) OutputFolder(path string) string {
	return filepath.Join(c.baseDir, c.Classify(path).Key())
}

// ExtractYear returns the first 4-digit run bounded by underscores, or NoYear.
func ExtractYear(filename string) string {
	m := yearToken.FindStringSubmatch(filename)
	if m == nil {
		return NoYear
	}
	return m[1]
}

func legacyEntity(stem string) string {
	prefix, _, _ := strings.Cut(stem, "_")
	return prefix
}

func strictEntity(name, stem string) string {
	prefix := stem
	if loc := yearToken.FindStringIndex(name); loc != nil && loc[0] <= len(stem) {
		prefix = name[:loc[0]]
	}
	return strings.TrimSpace(strings.ReplaceAll(prefix, "_", " "))
}
