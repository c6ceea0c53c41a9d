// Package stage defines the closed set of drawing development stages and
// their reference content.
package stage

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/drawee/drawee-go/internal/errors"
)

// Stage is one of the fixed development stages. The numeric value is the
// model output index.
type Stage int

const (
	Scribbling Stage = iota
	PreSchematic
	Schematic
	DawningRealism
	PseudoNaturalistic
)

// Count is the number of stages and the expected model output length
const Count = 5

var names = [Count]string{
	"Scribbling",
	"Pre-Schematic",
	"Schematic",
	"Dawning Realism",
	"Pseudo-Naturalistic",
}

// ErrUnknownStage is returned when an index or name is not a catalog member
var ErrUnknownStage = errors.NewStd("unknown stage")

// String returns the display name
func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return names[s]
}

// Valid reports whether s is a catalog member
func (s Stage) Valid() bool {
	return s >= 0 && int(s) < Count
}

// Index returns the model output index of s
func (s Stage) Index() int {
	return int(s)
}

// MarshalJSON encodes the stage as its display name
func (s Stage) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStage, int(s))
	}
	return json.Marshal(names[s])
}

// UnmarshalJSON accepts a display name
func (s *Stage) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := Parse(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// FromIndex maps an arg-max index to a stage
func FromIndex(i int) (Stage, error) {
	s := Stage(i)
	if !s.Valid() {
		return 0, fmt.Errorf("%w: index %d", ErrUnknownStage, i)
	}
	return s, nil
}

// Parse maps an exact display name to a stage. Matching is case-sensitive.
func Parse(name string) (Stage, error) {
	for i, n := range names {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

// All returns every stage in index order
func All() []Stage {
	all := make([]Stage, Count)
	for i := range all {
		all[i] = Stage(i)
	}
	return all
}

// Info is the reference content for one stage
type Info struct {
	Stage       Stage    `json:"stage" yaml:"-"`
	Name        string   `json:"name" yaml:"name"`
	Ages        string   `json:"ages" yaml:"ages"`
	Description string   `json:"description" yaml:"description"`
	Insight     string   `json:"insight" yaml:"insight"`
	Tips        []string `json:"tips" yaml:"tips"`
	Activities  []string `json:"activities" yaml:"activities"`
}

// Catalog holds the content of every stage
type Catalog struct {
	entries [Count]Info
}

//go:embed stages.yaml
var stagesYAML []byte

var (
	defaultCatalog *Catalog
	catalogErr     error
	catalogOnce    sync.Once
)

// Default returns the embedded catalog, parsing it on first use.
func Default() (*Catalog, error) {
	catalogOnce.Do(func() {
		defaultCatalog, catalogErr = Load(stagesYAML)
	})
	return defaultCatalog, catalogErr
}

// MustDefault is Default for callers at startup that cannot continue without the catalog.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Load parses catalog content. Every stage must appear exactly once with a
// description and an insight.
func Load(data []byte) (*Catalog, error) {
	var raw []Info
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.New(err).
			Component("stage").
			Category(errors.CategoryConfiguration).
			Context("operation", "parse-stage-catalog").
			Build()
	}

	c := &Catalog{}
	var seen [Count]bool
	for _, info := range raw {
		s, err := Parse(info.Name)
		if err != nil {
			return nil, fmt.Errorf("stage catalog: %w", err)
		}
		if seen[s] {
			return nil, fmt.Errorf("stage catalog: duplicate entry for %s", s)
		}
		if info.Description == "" || info.Insight == "" {
			return nil, fmt.Errorf("stage catalog: %s needs a description and an insight", s)
		}
		info.Stage = s
		c.entries[s] = info
		seen[s] = true
	}

	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("stage catalog: missing entry for %s", Stage(i))
		}
	}

	return c, nil
}

// Get returns the content for s
func (c *Catalog) Get(s Stage) (Info, error) {
	if !s.Valid() {
		return Info{}, fmt.Errorf("%w: %d", ErrUnknownStage, int(s))
	}
	return c.entries[s], nil
}

// Description returns the description for s, or "" for an invalid stage
func (c *Catalog) Description(s Stage) string {
	info, _ := c.Get(s)
	return info.Description
}

// Insight returns the insight paragraph for s, or "" for an invalid stage
func (c *Catalog) Insight(s Stage) string {
	info, _ := c.Get(s)
	return info.Insight
}

// Entries returns the content for every stage in index order
func (c *Catalog) Entries() []Info {
	out := make([]Info, Count)
	copy(out, c.entries[:])
	return out
}
