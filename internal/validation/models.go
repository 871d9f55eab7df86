package validation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusValid   Status = "VALID"
	StatusInvalid Status = "INVALID"
	StatusPartial Status = "PARTIAL"
	StatusError   Status = "ERROR"
)

// ValidationLog records one verification attempt. Logs are never updated;
// the newest one for an application is authoritative.
type ValidationLog struct {
	ID               uuid.UUID                   `json:"id" gorm:"primaryKey;type:uuid"`
	ApplicationID    uuid.UUID                   `json:"application_id" gorm:"type:uuid;not null;index:idx_validation_logs_application,priority:1"`
	ValidationStatus Status                      `json:"validation_status" gorm:"not null"`
	ValidDocuments   int                         `json:"valid_documents" gorm:"not null;default:0"`
	InvalidDocuments int                         `json:"invalid_documents" gorm:"not null;default:0"`
	MissingDocuments datatypes.JSONSlice[string] `json:"missing_documents" gorm:"type:jsonb"`
	RawResult        datatypes.JSON              `json:"raw_result" gorm:"type:jsonb"`
	ErrorKind        string                      `json:"error_kind,omitempty"`
	ErrorMessage     string                      `json:"error_message,omitempty"`
	CreatedAt        time.Time                   `json:"created_at" gorm:"not null;index:idx_validation_logs_application,priority:2"`
}

// NewLogID returns a time-ordered id. Logs written in the same instant still
// sort in creation order by id.
func NewLogID() uuid.UUID {
	if id, err := uuid.NewV7(); err == nil {
		return id
	}
	return uuid.New()
}

func (ValidationLog) TableName() string {
	return "validation_logs"
}
