package viewing

import (
	"time"

	"medical-photo-sharing/internal/domain/keys"
	"medical-photo-sharing/internal/domain/sharing"
)

// EndReason
// @Enum USER_CLOSED, TIME_EXPIRED, SUSPICIOUS_ACTIVITY, SESSION_REVOKED, TECHNICAL_ERROR
type EndReason string

const (
	EndUserClosed         EndReason = "USER_CLOSED"
	EndTimeExpired        EndReason = "TIME_EXPIRED"
	EndSuspiciousActivity EndReason = "SUSPICIOUS_ACTIVITY"
	EndSessionRevoked     EndReason = "SESSION_REVOKED"
	EndTechnicalError     EndReason = "TECHNICAL_ERROR"
)

func (r EndReason) Valid() bool {
	switch r {
	case EndUserClosed, EndTimeExpired, EndSuspiciousActivity, EndSessionRevoked, EndTechnicalError:
		return true
	}
	return false
}

// Counter indica qué contador de intentos incrementa un reporte sospechoso.
type Counter int

const (
	CounterNone Counter = iota
	CounterScreenshot
	CounterDownload
)

// Event es una vista puntual de una foto dentro de un access session.
// EndedAt, DurationSeconds y EndReason se fijan una sola vez.
type Event struct {
	ID              string
	AccessSessionID string
	PhotoID         string

	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds *int64
	EndReason       *EndReason

	DeviceFingerprint string
	IPAddress         string

	ScreenshotAttempts int
	DownloadAttempts   int
	SuspiciousActivity bool
}

func (e Event) Open() bool {
	return e.EndedAt == nil
}

type StartResult struct {
	Event              Event
	Token              keys.Token
	MaxViewTimeSeconds int
	Restrictions       sharing.ViewingRestrictions
}

type EndResult struct {
	Event                Event
	FinalDurationSeconds int64
	EndReason            EndReason
}
