// Package aggregate turns a child's stored results into the summary shown
// to parents: per-stage counts, the dominant stage and a daily chart.
package aggregate

import (
	"fmt"
	"sort"
	"time"
	_ "time/tzdata" // reference zone must resolve on hosts without zoneinfo

	"github.com/drawee/drawee-go/internal/datastore"
	"github.com/drawee/drawee-go/internal/stage"
)

// TimestampLayout is how result times are shown to users
const TimestampLayout = "Jan 02, 2006 03:04 PM"

// ChartDateLayout keys chart points by local calendar day
const ChartDateLayout = "2006-01-02"

// StageCount is the number of results classified as Stage
type StageCount struct {
	Stage stage.Stage `json:"stage"`
	Count int         `json:"count"`
}

// ChartPoint counts results of one stage on one local day
type ChartPoint struct {
	Date  string      `json:"date"`
	Stage stage.Stage `json:"stage"`
	Count int         `json:"count"`
}

// Summary describes a child's drawings.
type Summary struct {
	Empty      bool         `json:"empty"`
	Total      int          `json:"total"`
	Counts     []StageCount `json:"counts"`
	MostCommon *stage.Stage `json:"most_common,omitempty"`
	Header     string       `json:"header,omitempty"`
	Lines      []string     `json:"lines"`
	Insight    string       `json:"insight,omitempty"`
	Chart      []ChartPoint `json:"chart"`
	// Skipped counts stored rows whose prediction is not a known stage
	Skipped int `json:"skipped,omitempty"`
}

// Aggregator builds summaries in a reference timezone.
type Aggregator struct {
	loc     *time.Location
	catalog *stage.Catalog
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithCatalog replaces the embedded stage catalog
func WithCatalog(c *stage.Catalog) Option {
	return func(a *Aggregator) {
		if c != nil {
			a.catalog = c
		}
	}
}

// New returns an Aggregator for loc. A nil loc means UTC.
func New(loc *time.Location, opts ...Option) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	a := &Aggregator{loc: loc, catalog: stage.MustDefault()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Location returns the reference timezone
func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// FormatTimestamp renders t in the reference timezone.
func (a *Aggregator) FormatTimestamp(t time.Time) string {
	return t.In(a.loc).Format(TimestampLayout)
}

// Summarize aggregates results, which are expected newest first. Stage
// order in Counts and ties for MostCommon follow first appearance.
func (a *Aggregator) Summarize(results []datastore.Result) *Summary {
	s := &Summary{
		Counts: []StageCount{},
		Lines:  []string{},
		Chart:  []ChartPoint{},
	}

	type dayStage struct {
		date  string
		stage stage.Stage
	}
	daily := make(map[dayStage]int)
	index := make(map[stage.Stage]int)

	for i := range results {
		st, err := results[i].Stage()
		if err != nil {
			s.Skipped++
			continue
		}
		s.Total++

		if pos, ok := index[st]; ok {
			s.Counts[pos].Count++
		} else {
			index[st] = len(s.Counts)
			s.Counts = append(s.Counts, StageCount{Stage: st, Count: 1})
		}

		daily[dayStage{results[i].CreatedAt.In(a.loc).Format(ChartDateLayout), st}]++
	}

	if s.Total == 0 {
		s.Empty = true
		return s
	}

	best := 0
	for i, c := range s.Counts {
		if c.Count > s.Counts[best].Count {
			best = i
		}
	}
	top := s.Counts[best].Stage
	s.MostCommon = &top

	s.Header = fmt.Sprintf("This child has %d analyzed drawing(s) categorized into:", s.Total)
	for _, c := range s.Counts {
		s.Lines = append(s.Lines, fmt.Sprintf("%s: %d record(s). %s", c.Stage, c.Count, a.catalog.Description(c.Stage)))
	}
	s.Insight = a.catalog.Insight(top)

	for k, n := range daily {
		s.Chart = append(s.Chart, ChartPoint{Date: k.date, Stage: k.stage, Count: n})
	}
	sort.Slice(s.Chart, func(i, j int) bool {
		if s.Chart[i].Date != s.Chart[j].Date {
			return s.Chart[i].Date < s.Chart[j].Date
		}
		return s.Chart[i].Stage < s.Chart[j].Stage
	})

	return s
}
