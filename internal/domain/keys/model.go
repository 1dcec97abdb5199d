package keys

import "time"

// Key es la llave efímera de un solo uso para (sesión, foto, profesional).
// EncryptedKey y DerivationParams viajan juntos: sin los params no se puede
// reconstruir la llave de wrap.
type Key struct {
	ID             string
	SessionID      string
	PhotoID        string
	ProfessionalID string

	EncryptedKey     string
	DerivationParams string

	MaxUses     int
	CurrentUses int

	ExpiresAt  time.Time
	IsRevoked  bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Usable replica la condición del consume atómico.
func (k Key) Usable(now time.Time) bool {
	return !k.IsRevoked && k.CurrentUses < k.MaxUses && now.Before(k.ExpiresAt)
}

// Token es el token de descifrado entregado al cliente al iniciar una vista.
type Token struct {
	Value     string
	ExpiresAt time.Time
}
