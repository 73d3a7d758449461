package jobs

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TypeProgressRepair    = "PROGRESS_REPAIR"
	TypeProgressRepairAll = "PROGRESS_REPAIR_ALL"
	TypeActivityPrune     = "ACTIVITY_PRUNE"
)

const (
	StatusPending = "PENDING"
	StatusRunning = "RUNNING"
	StatusDone    = "DONE"
	StatusFailed  = "FAILED"
)

type Job struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Type      string         `gorm:"size:32;not null"`
	DedupeKey string         `gorm:"size:256;not null;default:''"`
	Payload   datatypes.JSON `gorm:"not null"`

	RunAt  time.Time `gorm:"not null"`
	Status string    `gorm:"size:16;not null;default:'PENDING'"` // PENDING/RUNNING/DONE/FAILED

	Attempts    int `gorm:"not null;default:0"`
	MaxAttempts int `gorm:"not null;default:8"`

	LockedBy *string `gorm:"size:64"`
	LockedAt *time.Time

	LastError *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Job) TableName() string { return "jobs" }

type repairPayload struct {
	UserID string `json:"user_id"`
	PlanID string `json:"plan_id"`
}
