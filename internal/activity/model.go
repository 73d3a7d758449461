package activity

import (
	"time"

	"gorm.io/datatypes"
)

type Action string

const (
	PlanAssigned    Action = "PLAN_ASSIGNED"
	ProgressUpdate  Action = "PROGRESS_UPDATE"
	StepCompleted   Action = "STEP_COMPLETED"
	StepUncompleted Action = "STEP_UNCOMPLETED"
	NotesUpdated    Action = "NOTES_UPDATED"
	PlanRemoved     Action = "PLAN_REMOVED"
)

func (a Action) Valid() bool {
	switch a {
	case PlanAssigned, ProgressUpdate, StepCompleted, StepUncompleted, NotesUpdated, PlanRemoved:
		return true
	}
	return false
}

// Details is the action-specific payload. Unset fields are omitted.
type Details struct {
	PlanID           string `json:"planId,omitempty"`
	StepID           string `json:"stepId,omitempty"`
	Completed        *bool  `json:"completed,omitempty"`
	InitialProgress  *int   `json:"initialProgress,omitempty"`
	PreviousProgress *int   `json:"previousProgress,omitempty"`
	NewProgress      *int   `json:"newProgress,omitempty"`
	CompletedSteps   *int   `json:"completedSteps,omitempty"`
	TotalSteps       *int   `json:"totalSteps,omitempty"`
}

// Event is one immutable audit entry.
type Event struct {
	ActivityID string    `json:"activity_id"`
	UserID     string    `json:"user_id"`
	Action     Action    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
	Details    Details   `json:"details"`
}

func Int(v int) *int    { return &v }
func Bool(v bool) *bool { return &v }

// Row is the storage shape of an Event. plan_id duplicates details.planId so
// per-plan history can be filtered without JSON operators.
type Row struct {
	ActivityID string                      `gorm:"primaryKey;size:64"`
	UserID     string                      `gorm:"size:128;not null"`
	PlanID     string                      `gorm:"size:64;not null;default:''"`
	Action     string                      `gorm:"size:32;not null"`
	Timestamp  time.Time                   `gorm:"column:occurred_at;not null"`
	Details    datatypes.JSONType[Details] `gorm:"not null"`
}

func (Row) TableName() string { return "activity_events" }

func toRow(e Event) Row {
	return Row{
		ActivityID: e.ActivityID,
		UserID:     e.UserID,
		PlanID:     e.Details.PlanID,
		Action:     string(e.Action),
		Timestamp:  e.Timestamp,
		Details:    datatypes.NewJSONType(e.Details),
	}
}

func fromRow(r Row) Event {
	return Event{
		ActivityID: r.ActivityID,
		UserID:     r.UserID,
		Action:     Action(r.Action),
		Timestamp:  r.Timestamp,
		Details:    r.Details.Data(),
	}
}
