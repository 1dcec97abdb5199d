package notifications

import "time"

type Type string

const (
	TypeSharingCreated     Type = "MEDICAL_SHARING_CREATED"
	TypeDoctorAccessed     Type = "DOCTOR_ACCESSED_PHOTOS"
	TypeViewingStarted     Type = "DOCTOR_VIEWING_STARTED"
	TypeViewingEnded       Type = "DOCTOR_VIEWING_ENDED"
	TypeSessionExpired     Type = "SHARING_SESSION_EXPIRED"
	TypeSessionRevoked     Type = "SHARING_SESSION_REVOKED"
	TypeSuspiciousActivity Type = "SUSPICIOUS_ACCESS_DETECTED"
)

type Notification struct {
	ID          string
	RecipientID string

	Type    Type
	Title   string
	Message string

	RelatedSessionID      string // vacío si no aplica
	RelatedProfessionalID string

	IsRead    bool
	CreatedAt time.Time
	ReadAt    *time.Time
}
