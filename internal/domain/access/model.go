package access

import (
	"time"

	"medical-photo-sharing/internal/domain/photos"
	"medical-photo-sharing/internal/domain/sharing"
)

// DeviceInfo la reporta el cliente del profesional en cada request.
type DeviceInfo struct {
	Fingerprint      string
	IPAddress        string
	UserAgent        string
	ScreenResolution *string
	TimeZone         *string
}

// AccessSession es una ventana de acceso de un profesional sobre una sesión de sharing.
type AccessSession struct {
	ID               string
	MedicalSessionID string
	ProfessionalID   string

	DeviceFingerprint string
	IPAddress         string
	UserAgent         string

	StartedAt time.Time
	ExpiresAt time.Time
	EndedAt   *time.Time
	IsActive  bool
}

// Live: activo y dentro de su ventana.
func (a AccessSession) Live(now time.Time) bool {
	return a.IsActive && now.Before(a.ExpiresAt)
}

// SecurePhotoInfo nunca incluye contenido en claro: sólo metadata y el nombre cifrado.
type SecurePhotoInfo struct {
	PhotoID           string
	Angle             photos.Angle
	CaptureDate       time.Time
	EncryptedFilename string
}

type RequestResult struct {
	AccessSession   AccessSession
	SecureViewerURL string
	Photos          []SecurePhotoInfo
	Restrictions    sharing.AccessRestrictions
}

func SecureViewerURL(accessSessionID string) string {
	return "/secure-viewer/" + accessSessionID
}
