package sharing

import "time"

// Status del ciclo de vida de una sesión de sharing.
// @Enum PENDING_DOCTOR_ACCESS, ACTIVE, EXPIRED, REVOKED_BY_PATIENT, EXHAUSTED_ATTEMPTS, COMPLETED
type Status string

const (
	StatusPendingDoctorAccess Status = "PENDING_DOCTOR_ACCESS"
	StatusActive              Status = "ACTIVE"
	StatusExpired             Status = "EXPIRED"
	StatusRevokedByPatient    Status = "REVOKED_BY_PATIENT"
	StatusExhaustedAttempts   Status = "EXHAUSTED_ATTEMPTS"
	StatusCompleted           Status = "COMPLETED"
)

// OpenStatuses son los únicos estados desde los que se puede transicionar.
var OpenStatuses = []Status{StatusPendingDoctorAccess, StatusActive}

func (s Status) Valid() bool {
	switch s {
	case StatusPendingDoctorAccess, StatusActive, StatusExpired,
		StatusRevokedByPatient, StatusExhaustedAttempts, StatusCompleted:
		return true
	}
	return false
}

// Terminal: los estados terminales son absorbentes.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusPendingDoctorAccess && s != StatusActive
}

// Session es la concesión paciente -> profesional.
// PhotoIDs y ExpiresAt se fijan al crear y no cambian.
type Session struct {
	ID             string
	PatientID      string
	ProfessionalID string
	PhotoIDs       []string
	Notes          *string

	MaxTotalViews          int
	MaxViewDurationMinutes int
	ExpiresAt              time.Time

	AllowScreenshots bool
	AllowDownload    bool

	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
	RevokedAt     *time.Time
	RevokedReason *string
}

func (s Session) HasPhoto(photoID string) bool {
	for _, id := range s.PhotoIDs {
		if id == photoID {
			return true
		}
	}
	return false
}

// AccessRestrictions acompañan la respuesta de un request de acceso.
type AccessRestrictions struct {
	AllowScreenshots      bool `json:"allow_screenshots"`
	AllowDownload         bool `json:"allow_download"`
	AllowPrint            bool `json:"allow_print"`
	RequireContinuousAuth bool `json:"require_continuous_auth"`
	MaxViewTimeMinutes    int  `json:"max_view_time_minutes"`
}

func (s Session) AccessRestrictions() AccessRestrictions {
	return AccessRestrictions{
		AllowScreenshots:      s.AllowScreenshots,
		AllowDownload:         s.AllowDownload,
		AllowPrint:            false,
		RequireContinuousAuth: true,
		MaxViewTimeMinutes:    s.MaxViewDurationMinutes,
	}
}

// ViewingRestrictions se devuelven al iniciar una vista.
type ViewingRestrictions struct {
	PreventScreenshots       bool   `json:"prevent_screenshots"`
	PreventDownload          bool   `json:"prevent_download"`
	PreventPrint             bool   `json:"prevent_print"`
	PreventCopy              bool   `json:"prevent_copy"`
	MaxViewTimeSeconds       int    `json:"max_view_time_seconds"`
	RequireContinuousAuth    bool   `json:"require_continuous_auth"`
	AllowedDeviceFingerprint string `json:"allowed_device_fingerprint,omitempty"`
}

func (s Session) ViewingRestrictions(deviceFingerprint string) ViewingRestrictions {
	return ViewingRestrictions{
		PreventScreenshots:       !s.AllowScreenshots,
		PreventDownload:          !s.AllowDownload,
		PreventPrint:             true,
		PreventCopy:              true,
		MaxViewTimeSeconds:       s.MaxViewDurationMinutes * 60,
		RequireContinuousAuth:    true,
		AllowedDeviceFingerprint: deviceFingerprint,
	}
}

// SecureAccessURL es la ruta que el cliente del profesional abre.
func SecureAccessURL(sessionID string) string {
	return "/secure-medical-access/" + sessionID
}
