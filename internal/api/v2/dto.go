package api

import (
	"time"

	"github.com/drawee/drawee-go/internal/datastore"
	"github.com/drawee/drawee-go/internal/drawee"
	"github.com/drawee/drawee-go/internal/stage"
)

// StageProbability is one entry of the merged distribution
type StageProbability struct {
	Stage      string  `json:"stage"`
	Percentage float64 `json:"percentage"`
}

// ClassificationResponse is returned after a drawing is classified.
type ClassificationResponse struct {
	ResultID     string             `json:"result_id"`
	ChildID      string             `json:"child_id"`
	Stage        string             `json:"stage"`
	StageIndex   int                `json:"stage_index"`
	Confidence   float64            `json:"confidence"`
	ImageURL     string             `json:"image_url"`
	CreatedAt    time.Time          `json:"created_at"`
	Timestamp    string             `json:"timestamp"`
	Details      stage.Info         `json:"details"`
	Distribution []StageProbability `json:"distribution"`
}

// ResultResponse is one row of a child's history
type ResultResponse struct {
	ID         string    `json:"id"`
	ChildID    string    `json:"child_id"`
	Stage      string    `json:"stage"`
	Confidence float64   `json:"confidence"`
	ImagePath  string    `json:"image_path"`
	CreatedAt  time.Time `json:"created_at"`
	Timestamp  string    `json:"timestamp"`
}

// ChildResponse is a child with its result count
type ChildResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ResultCount int64     `json:"result_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// HealthResponse reports service liveness
type HealthResponse struct {
	Status        string       `json:"status"`
	Version       string       `json:"version"`
	BuildDate     string       `json:"build_date"`
	Uptime        string       `json:"uptime"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	Timestamp     string       `json:"timestamp"`
	Memory        *MemoryStats `json:"memory,omitempty"`
}

// MemoryStats is host memory usage
type MemoryStats struct {
	Total       uint64  `json:"total"`
	Available   uint64  `json:"available"`
	UsedPercent float64 `json:"used_percent"`
}

func newClassificationResponse(c *drawee.Classification, timestamp string) ClassificationResponse {
	r := c.Result
	resp := ClassificationResponse{
		ResultID:   r.ID,
		ChildID:    r.ChildID,
		Stage:      r.Prediction,
		Confidence: r.Confidence,
		ImageURL:   c.ImageURL,
		CreatedAt:  r.CreatedAt,
		Timestamp:  timestamp,
		Details:    c.Details,
	}
	if c.Prediction != nil {
		resp.StageIndex = c.Prediction.Index
		resp.Distribution = make([]StageProbability, 0, len(c.Prediction.Distribution))
		for i, p := range c.Prediction.Distribution {
			name := ""
			if s, err := stage.FromIndex(i); err == nil {
				name = s.String()
			}
			resp.Distribution = append(resp.Distribution, StageProbability{Stage: name, Percentage: p * 100})
		}
	}
	return resp
}

func newResultResponse(r *datastore.Result, timestamp string) ResultResponse {
	return ResultResponse{
		ID:         r.ID,
		ChildID:    r.ChildID,
		Stage:      r.Prediction,
		Confidence: r.Confidence,
		ImagePath:  r.ImagePath,
		CreatedAt:  r.CreatedAt,
		Timestamp:  timestamp,
	}
}
