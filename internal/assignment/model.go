package assignment

import (
	"time"

	"learnplan/internal/plan"
)

// UserPlan links a user to a plan and carries the denormalized progress
// summary. The plan's step list stays authoritative.
type UserPlan struct {
	UserID             string    `gorm:"primaryKey;size:128" json:"user_id"`
	PlanID             string    `gorm:"primaryKey;size:64" json:"plan_id"`
	Progress           int       `gorm:"not null;default:0" json:"progress"`
	CompletedSteps     int       `gorm:"not null;default:0" json:"completed_steps"`
	TotalSteps         int       `gorm:"not null;default:0" json:"total_steps"`
	LastProgressUpdate time.Time `gorm:"not null" json:"last_progress_update"`
	CreatedAt          time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time `gorm:"not null" json:"updated_at"`
}

func (UserPlan) TableName() string { return "user_plans" }

// Summary is the progress triple written by reconciliation.
type Summary struct {
	Progress       int `json:"progress"`
	CompletedSteps int `json:"completed_steps"`
	TotalSteps     int `json:"total_steps"`
}

func (u UserPlan) Summary() Summary {
	return Summary{Progress: u.Progress, CompletedSteps: u.CompletedSteps, TotalSteps: u.TotalSteps}
}

// Entry is an assignment resolved to its plan.
type Entry struct {
	UserPlan UserPlan  `json:"user_plan"`
	Plan     plan.Plan `json:"plan"`
}

type AssignOptions struct {
	InitialProgress int
	// TotalSteps of zero means "count the plan's steps".
	TotalSteps int
}
