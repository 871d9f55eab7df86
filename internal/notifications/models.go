package notifications

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel names
const (
	ChannelSNS       = "sns"
	ChannelEmail     = "email"
	ChannelWebSocket = "websocket"
)

// Delivery statuses
const (
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
	StatusSkipped = "SKIPPED"
)

// StatusEvent describes an application reaching a review or final status
type StatusEvent struct {
	ApplicationID            uuid.UUID `json:"application_id"`
	ApplicantName            string    `json:"applicant_name"`
	Email                    string    `json:"-"`
	PreviousStatus           string    `json:"previous_status"`
	Status                   string    `json:"status"`
	DocumentValidationStatus string    `json:"document_validation_status"`
	OccurredAt               time.Time `json:"occurred_at"`
}

// Subject is the one-line summary used by every channel
func (e StatusEvent) Subject() string {
	return fmt.Sprintf("Loan application %s is %s", e.ApplicationID, e.Status)
}

// DeliveryLog records one delivery attempt on one channel
type DeliveryLog struct {
	ID                string    `json:"id" dynamodbav:"id"`
	ApplicationID     string    `json:"application_id" dynamodbav:"application_id"`
	Channel           string    `json:"channel" dynamodbav:"channel"`
	Status            string    `json:"status" dynamodbav:"status"`
	ApplicationStatus string    `json:"application_status" dynamodbav:"application_status"`
	ProviderMessageID string    `json:"provider_message_id,omitempty" dynamodbav:"provider_message_id,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
	Timestamp         time.Time `json:"timestamp" dynamodbav:"timestamp"`
	ExpiresAt         int64     `json:"-" dynamodbav:"expires_at,omitempty"`
}
