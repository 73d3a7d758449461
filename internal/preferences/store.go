package preferences

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"learnplan/internal/apperr"
	"learnplan/internal/logger"
)

const maxFieldLen = 64

type Store struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewStore(db *gorm.DB, baseLog *logger.Logger) *Store {
	return &Store{
		db:  db,
		log: baseLog.With("store", "PreferencesStore"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Get(ctx context.Context, userID string) (Preferences, error) {
	var row Row
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Preferences{}, apperr.NotFound("preferences.get", "preferences of %s", userID)
		}
		return Preferences{}, apperr.FromDB("preferences.get", err)
	}
	return fromRow(row), nil
}

// Upsert merges pt into the user's stored preferences, creating the record
// when there is none. CreatedAt survives every later update.
func (s *Store) Upsert(ctx context.Context, userID string, pt Patch) (Preferences, error) {
	if strings.TrimSpace(userID) == "" {
		return Preferences{}, apperr.Validation("preferences.upsert", "user id required")
	}
	if err := pt.validate(); err != nil {
		return Preferences{}, apperr.Validation("preferences.upsert", "%v", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		cur, err := s.Get(ctx, userID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			now := s.now()
			p := Preferences{UserID: userID, CreatedAt: now, UpdatedAt: now}
			pt.apply(&p)
			row := toRow(p)
			res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return Preferences{}, apperr.FromDB("preferences.upsert", res.Error)
			}
			if res.RowsAffected == 1 {
				s.log.Debug("preferences created", "user_id", userID)
				return fromRow(row), nil
			}
			// created concurrently; merge into that record instead
		case err != nil:
			return Preferences{}, err
		default:
			pt.apply(&cur)
			cur.UpdatedAt = s.now()
			row := toRow(cur)
			err := s.db.WithContext(ctx).Model(&Row{}).Where("user_id = ?", userID).Updates(map[string]any{
				"learning_style":        row.LearningStyle,
				"pace_preference":       row.PacePreference,
				"difficulty_preference": row.DifficultyPreference,
				"interests":             row.Interests,
				"extra":                 row.Extra,
				"updated_at":            row.UpdatedAt,
			}).Error
			if err != nil {
				return Preferences{}, apperr.FromDB("preferences.upsert", err)
			}
			return fromRow(row), nil
		}
	}
	return Preferences{}, apperr.Conflict("preferences.upsert", "preferences of %s changed concurrently", userID)
}

func (pt Patch) validate() error {
	for name, v := range map[string]*string{
		"learning_style":        pt.LearningStyle,
		"pace_preference":       pt.PacePreference,
		"difficulty_preference": pt.DifficultyPreference,
	} {
		if v != nil && len(*v) > maxFieldLen {
			return fmt.Errorf("%s longer than %d", name, maxFieldLen)
		}
	}
	if pt.Interests != nil {
		for _, in := range *pt.Interests {
			if strings.TrimSpace(in) == "" {
				return errors.New("blank interest")
			}
		}
	}
	for k := range pt.Extra {
		if strings.TrimSpace(k) == "" {
			return errors.New("blank extra key")
		}
	}
	return nil
}
