package validation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository stores validation logs. Logs are append-only.
type Repository interface {
	Create(ctx context.Context, log *ValidationLog) error
	// LatestByApplicationID returns nil, nil when no log exists
	LatestByApplicationID(ctx context.Context, applicationID uuid.UUID) (*ValidationLog, error)
	// ListByApplicationID returns logs newest first
	ListByApplicationID(ctx context.Context, applicationID uuid.UUID) ([]ValidationLog, error)
}

// newestFirst breaks created_at ties on the time-ordered id
const newestFirst = "created_at DESC, id DESC"

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, log *ValidationLog) error {
	if log.ID == uuid.Nil {
		log.ID = NewLogID()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *gormRepository) LatestByApplicationID(ctx context.Context, applicationID uuid.UUID) (*ValidationLog, error) {
	var log ValidationLog
	err := r.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order(newestFirst).
		First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *gormRepository) ListByApplicationID(ctx context.Context, applicationID uuid.UUID) ([]ValidationLog, error) {
	logs := []ValidationLog{}
	err := r.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order(newestFirst).
		Find(&logs).Error
	return logs, err
}
