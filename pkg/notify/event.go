package notify

import (
	"time"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
)

// Lifecycle event names carried on notifications.
const (
	EventPublished = "job.published"
	EventFailed    = "job.failed"
	EventCancelled = "job.cancelled"
)

// Event represents a job lifecycle notification sent downstream.
type Event struct {
	Name            string             `json:"name"`
	JobID           string             `json:"job_id"`
	ChannelID       string             `json:"channel_id"`
	ChannelName     string             `json:"channel_name,omitempty"`
	Stage           string             `json:"stage"`
	Origin          string             `json:"origin"`
	Title           string             `json:"title,omitempty"`
	ExternalVideoID string             `json:"external_video_id,omitempty"`
	LastError       *domain.StageError `json:"last_error,omitempty"`
	OccurredAt      time.Time          `json:"occurred_at"`
}

// NewEvent constructs an Event for a job reaching a terminal-ish milestone.
func NewEvent(name, channelName string, job domain.Job) Event {
	evt := Event{
		Name:            name,
		JobID:           job.ID,
		ChannelID:       job.ChannelID,
		ChannelName:     channelName,
		Stage:           string(job.Stage),
		Origin:          job.Candidate.Origin,
		Title:           job.Candidate.Title,
		ExternalVideoID: job.ExternalVideoID,
		OccurredAt:      time.Now().UTC(),
	}
	if len(job.Errors) > 0 {
		last := job.Errors[len(job.Errors)-1]
		evt.LastError = &last
	}
	return evt
}
