package summaries

import (
	"time"

	"medical-photo-sharing/internal/domain/access"
	"medical-photo-sharing/internal/domain/sharing"
	"medical-photo-sharing/internal/domain/viewing"
)

// Urgency
// @Enum CRITICAL, HIGH, MEDIUM, LOW
type Urgency string

const (
	UrgencyCritical Urgency = "CRITICAL"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyLow      Urgency = "LOW"
)

// UrgencyFor clasifica por horas restantes (truncadas).
func UrgencyFor(hoursUntilExpiry int64) Urgency {
	switch {
	case hoursUntilExpiry <= 2:
		return UrgencyCritical
	case hoursUntilExpiry <= 6:
		return UrgencyHigh
	case hoursUntilExpiry <= 24:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

type PatientSessionSummary struct {
	Session          sharing.Session
	TotalAccesses    int
	LastAccessedAt   *time.Time
	RemainingViews   int
	HoursUntilExpiry int64
}

// AnonymizedPatient no lleva nombre ni fecha de nacimiento.
type AnonymizedPatient struct {
	Initials  string
	AgeRange  string
	ShareDate time.Time
}

type ProfessionalSessionSummary struct {
	Session          sharing.Session
	CanAccess        bool
	RemainingViews   int
	HoursUntilExpiry int64
	Urgency          Urgency
	Patient          AnonymizedPatient
}

type AccessLogEntry struct {
	AccessSession access.AccessSession
	Events        []viewing.Event
}

type ComplianceReport struct {
	From time.Time
	To   time.Time

	SessionsCreated     int
	SessionsAccessed    int
	SessionsNotAccessed int

	ViewingEvents      int
	AverageViewSeconds float64
	SuspiciousEvents   int

	RevokedSessions     int
	AutoRevokedSessions int
}
