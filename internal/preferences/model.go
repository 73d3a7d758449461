package preferences

import (
	"time"

	"gorm.io/datatypes"
)

// Preferences are what the plan generator reads when tailoring a plan to a
// user. Extra carries any further keys the client sends.
type Preferences struct {
	UserID               string         `json:"user_id"`
	LearningStyle        string         `json:"learning_style"`
	PacePreference       string         `json:"pace_preference"`
	DifficultyPreference string         `json:"difficulty_preference"`
	Interests            []string       `json:"interests"`
	Extra                map[string]any `json:"extra"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Patch holds the fields to change; nil means untouched. Extra is merged key
// by key and a nil value drops the key.
type Patch struct {
	LearningStyle        *string
	PacePreference       *string
	DifficultyPreference *string
	Interests            *[]string
	Extra                map[string]any
}

func (pt Patch) apply(p *Preferences) {
	if pt.LearningStyle != nil {
		p.LearningStyle = *pt.LearningStyle
	}
	if pt.PacePreference != nil {
		p.PacePreference = *pt.PacePreference
	}
	if pt.DifficultyPreference != nil {
		p.DifficultyPreference = *pt.DifficultyPreference
	}
	if pt.Interests != nil {
		p.Interests = append([]string{}, (*pt.Interests)...)
	}
	if p.Extra == nil {
		p.Extra = map[string]any{}
	}
	for k, v := range pt.Extra {
		if v == nil {
			delete(p.Extra, k)
			continue
		}
		p.Extra[k] = v
	}
}

type Row struct {
	UserID               string                      `gorm:"primaryKey;size:128"`
	LearningStyle        string                      `gorm:"size:64;not null;default:''"`
	PacePreference       string                      `gorm:"size:64;not null;default:''"`
	DifficultyPreference string                      `gorm:"size:64;not null;default:''"`
	Interests            datatypes.JSONSlice[string] `gorm:"not null"`
	Extra                datatypes.JSONMap
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

func (Row) TableName() string { return "user_preferences" }

func toRow(p Preferences) Row {
	interests := p.Interests
	if interests == nil {
		interests = []string{}
	}
	extra := p.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	return Row{
		UserID:               p.UserID,
		LearningStyle:        p.LearningStyle,
		PacePreference:       p.PacePreference,
		DifficultyPreference: p.DifficultyPreference,
		Interests:            datatypes.JSONSlice[string](interests),
		Extra:                datatypes.JSONMap(extra),
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
}

func fromRow(r Row) Preferences {
	p := Preferences{
		UserID:               r.UserID,
		LearningStyle:        r.LearningStyle,
		PacePreference:       r.PacePreference,
		DifficultyPreference: r.DifficultyPreference,
		Interests:            []string(r.Interests),
		Extra:                map[string]any(r.Extra),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if p.Interests == nil {
		p.Interests = []string{}
	}
	if p.Extra == nil {
		p.Extra = map[string]any{}
	}
	return p
}
