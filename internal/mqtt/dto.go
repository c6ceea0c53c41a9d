package mqtt

import (
	"time"

	"github.com/drawee/drawee-go/internal/datastore"
)

// ClassificationEvent is the payload published after a drawing is classified.
// Field names are part of the event contract consumed by subscribers.
type ClassificationEvent struct {
	ResultID   string    `json:"resultId"`
	ChildID    string    `json:"childId"`
	Stage      string    `json:"stage"`
	StageIndex int       `json:"stageIndex"`
	Confidence float64   `json:"confidence"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Instance   string    `json:"instance,omitempty"`
}

// NewClassificationEvent builds the event for a stored result. Owner ids are not published.
func NewClassificationEvent(r *datastore.Result, imageURL, instance string) *ClassificationEvent {
	ev := &ClassificationEvent{
		ResultID:   r.ID,
		ChildID:    r.ChildID,
		Stage:      r.Prediction,
		StageIndex: -1,
		Confidence: r.Confidence,
		ImageURL:   imageURL,
		Timestamp:  r.CreatedAt.UTC(),
		Instance:   instance,
	}
	if s, err := r.Stage(); err == nil {
		ev.StageIndex = s.Index()
	}
	return ev
}
