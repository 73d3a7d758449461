package plan

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Step struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// Plan is the authoritative content and step-completion state of one plan.
type Plan struct {
	PlanID                  string    `json:"plan_id"`
	Title                   string    `json:"title"`
	Description             string    `json:"description"`
	EstimatedTimeToComplete string    `json:"estimated_time_to_complete"`
	Tags                    []string  `json:"tags"`
	Steps                   []Step    `json:"steps"`
	Notes                   string    `json:"notes"`
	Revision                int64     `json:"revision"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// StepIndex returns the position of stepID or -1.
func (p *Plan) StepIndex(stepID string) int {
	for i := range p.Steps {
		if p.Steps[i].ID == stepID {
			return i
		}
	}
	return -1
}

// Content is what the plan generator hands over for a new plan.
type Content struct {
	Title                   string   `json:"title"`
	Description             string   `json:"description"`
	EstimatedTimeToComplete string   `json:"estimated_time_to_complete"`
	Tags                    []string `json:"tags"`
	Steps                   []Step   `json:"steps"`
	Notes                   string   `json:"notes"`
}

// Patch holds the fields to change; nil means untouched.
type Patch struct {
	Title                   *string
	Description             *string
	EstimatedTimeToComplete *string
	Tags                    *[]string
	Steps                   *[]Step
	Notes                   *string
}

func (pt Patch) apply(p *Plan) {
	if pt.Title != nil {
		p.Title = *pt.Title
	}
	if pt.Description != nil {
		p.Description = *pt.Description
	}
	if pt.EstimatedTimeToComplete != nil {
		p.EstimatedTimeToComplete = *pt.EstimatedTimeToComplete
	}
	if pt.Tags != nil {
		p.Tags = append([]string(nil), (*pt.Tags)...)
	}
	if pt.Steps != nil {
		p.Steps = append([]Step(nil), (*pt.Steps)...)
	}
	if pt.Notes != nil {
		p.Notes = *pt.Notes
	}
}

func validate(p *Plan) error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("title required")
	}
	seen := make(map[string]struct{}, len(p.Steps))
	for _, s := range p.Steps {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("step id required")
		}
		if _, ok := seen[s.ID]; ok {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// Row is the storage shape of a Plan. Tags and steps live in JSON columns.
type Row struct {
	PlanID                  string                      `gorm:"primaryKey;size:64"`
	Title                   string                      `gorm:"type:text;not null"`
	Description             string                      `gorm:"type:text;not null;default:''"`
	EstimatedTimeToComplete string                      `gorm:"type:text;not null;default:''"`
	Tags                    datatypes.JSONSlice[string] `gorm:"not null"`
	Steps                   datatypes.JSONSlice[Step]   `gorm:"not null"`
	Notes                   string                      `gorm:"type:text;not null;default:''"`
	Revision                int64                       `gorm:"not null;default:0"`
	CreatedAt               time.Time                   `gorm:"not null"`
	UpdatedAt               time.Time                   `gorm:"not null"`
}

func (Row) TableName() string { return "plans" }

func toRow(p Plan) Row {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	steps := p.Steps
	if steps == nil {
		steps = []Step{}
	}
	return Row{
		PlanID:                  p.PlanID,
		Title:                   p.Title,
		Description:             p.Description,
		EstimatedTimeToComplete: p.EstimatedTimeToComplete,
		Tags:                    datatypes.JSONSlice[string](tags),
		Steps:                   datatypes.JSONSlice[Step](steps),
		Notes:                   p.Notes,
		Revision:                p.Revision,
		CreatedAt:               p.CreatedAt,
		UpdatedAt:               p.UpdatedAt,
	}
}

func fromRow(r Row) Plan {
	p := Plan{
		PlanID:                  r.PlanID,
		Title:                   r.Title,
		Description:             r.Description,
		EstimatedTimeToComplete: r.EstimatedTimeToComplete,
		Tags:                    []string(r.Tags),
		Steps:                   []Step(r.Steps),
		Notes:                   r.Notes,
		Revision:                r.Revision,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.Steps == nil {
		p.Steps = []Step{}
	}
	return p
}
