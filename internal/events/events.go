// Package events carries engine lifecycle notifications. Events are
// published after the originating command's unit of work has flushed, so
// subscribers never observe state that was rolled back
package events

import (
	"time"

	"github.com/kode4food/paisley/pkg/api"
)

type (
	// Type discriminates engine event envelopes
	Type string

	// Event is the envelope published through the Hub. Only the fields
	// relevant to the event type are populated
	Event struct {
		Time       time.Time               `json:"time"`
		Value      any                     `json:"value,omitempty"`
		Type       Type                    `json:"type"`
		Definition api.ProcessDefinitionID `json:"definition,omitempty"`
		Process    api.ProcessInstanceID   `json:"process,omitempty"`
		Execution  api.ExecutionID         `json:"execution,omitempty"`
		Activity   api.ActivityID          `json:"activity,omitempty"`
		Job        api.JobID               `json:"job,omitempty"`
		Variable   api.VariableName        `json:"variable,omitempty"`
		Reason     string                  `json:"reason,omitempty"`
		Error      string                  `json:"error,omitempty"`
	}
)

const (
	DeploymentCreated Type = "deployment-created"
	ProcessStarted    Type = "process-started"
	ProcessEnded      Type = "process-ended"
	ActivityStarted   Type = "activity-started"
	ActivityEnded     Type = "activity-ended"
	VariableUpdated   Type = "variable-updated"
	JobCreated        Type = "job-created"
	JobExecuted       Type = "job-executed"
	JobFailed         Type = "job-failed"
	JobDeadLettered   Type = "job-dead-lettered"
)
