package keys

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medical-photo-sharing/internal/platform/logger"
	"medical-photo-sharing/internal/platform/metrics"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("key not found")
	ErrKeyExhausted = errors.New("key exhausted")
	ErrKeyExpired   = errors.New("key expired")
	ErrKeyRevoked   = errors.New("key revoked")
	ErrTokenInvalid = errors.New("decryption token invalid or already used")
)

const DefaultMaxUses = 1

type Manager struct {
	repo    Repository
	wrapper *Wrapper
	tokens  TokenStore
	signer  *tokenSigner
	log     logger.Logger
	now     func() time.Time
}

func NewManager(repo Repository, wrapper *Wrapper, tokens TokenStore, tokenCfg TokenConfig, log logger.Logger) (*Manager, error) {
	if repo == nil || wrapper == nil || tokens == nil {
		return nil, errors.New("keys: repo, wrapper and token store are required")
	}
	signer, err := newTokenSigner(tokenCfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		repo:    repo,
		wrapper: wrapper,
		tokens:  tokens,
		signer:  signer,
		log:     log.With(map[string]any{"module": "keys"}),
		now:     time.Now,
	}, nil
}

type MintInput struct {
	SessionID       string
	PhotoID         string
	ProfessionalID  string
	ValidityMinutes int

	// ExpiresAt es el vencimiento de la sesión; la llave no puede sobrevivirla.
	ExpiresAt time.Time
}

func (m *Manager) Mint(ctx context.Context, in MintInput) (Key, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	photoID := strings.TrimSpace(in.PhotoID)
	professionalID := strings.TrimSpace(in.ProfessionalID)
	if sessionID == "" || photoID == "" || professionalID == "" {
		return Key{}, ErrInvalidInput
	}
	if in.ValidityMinutes <= 0 || in.ExpiresAt.IsZero() {
		return Key{}, ErrInvalidInput
	}

	now := m.now()
	encrypted, params, err := m.wrapper.Seal(derivationParams{
		SessionID:       sessionID,
		PhotoID:         photoID,
		ProfessionalID:  professionalID,
		IssuedAt:        now.Unix(),
		ValidityMinutes: in.ValidityMinutes,
	})
	if err != nil {
		return Key{}, err
	}

	k := Key{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		PhotoID:          photoID,
		ProfessionalID:   professionalID,
		EncryptedKey:     encrypted,
		DerivationParams: params,
		MaxUses:          DefaultMaxUses,
		CurrentUses:      0,
		ExpiresAt:        in.ExpiresAt,
		CreatedAt:        now,
	}
	if err := m.repo.Create(ctx, k); err != nil {
		return Key{}, err
	}
	return k, nil
}

func (m *Manager) GetByID(ctx context.Context, id string) (Key, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Key{}, ErrNotFound
	}
	k, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return Key{}, ErrNotFound
	}
	return k, nil
}

// FindForPhoto busca la llave de (sesión, foto).
func (m *Manager) FindForPhoto(ctx context.Context, sessionID, photoID string) (Key, error) {
	sessionID = strings.TrimSpace(sessionID)
	photoID = strings.TrimSpace(photoID)
	if sessionID == "" || photoID == "" {
		return Key{}, ErrNotFound
	}
	k, err := m.repo.FindBySessionAndPhoto(ctx, sessionID, photoID, m.now())
	if err != nil {
		return Key{}, ErrNotFound
	}
	return k, nil
}

func (m *Manager) ListBySession(ctx context.Context, sessionID string) ([]Key, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidInput
	}
	return m.repo.ListBySession(ctx, sessionID)
}

// Consume gasta un uso de la llave. El incremento es un único update
// condicional; si no aplica, se relee la llave para clasificar el motivo.
func (m *Manager) Consume(ctx context.Context, keyID string) (Key, error) {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return Key{}, ErrNotFound
	}

	now := m.now()
	k, ok, err := m.repo.ConsumeIfEligible(ctx, keyID, now)
	if err != nil {
		metrics.KeyConsumes.WithLabelValues("error").Inc()
		return Key{}, err
	}
	if ok {
		metrics.KeyConsumes.WithLabelValues("ok").Inc()
		return k, nil
	}

	current, err := m.repo.GetByID(ctx, keyID)
	if err != nil {
		metrics.KeyConsumes.WithLabelValues("not_found").Inc()
		return Key{}, ErrNotFound
	}

	reason := classify(current, now)
	metrics.KeyConsumes.WithLabelValues(strings.TrimPrefix(reason.Error(), "key ")).Inc()
	return current, reason
}

func classify(k Key, now time.Time) error {
	switch {
	case k.CurrentUses >= k.MaxUses:
		return ErrKeyExhausted
	case !now.Before(k.ExpiresAt):
		return ErrKeyExpired
	case k.IsRevoked:
		return ErrKeyRevoked
	default:
		// Otro consumidor ganó entre el update y la relectura.
		return ErrKeyExhausted
	}
}

// Revoke es idempotente.
func (m *Manager) Revoke(ctx context.Context, keyID string) error {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return ErrNotFound
	}
	if _, err := m.repo.GetByID(ctx, keyID); err != nil {
		return ErrNotFound
	}
	_, err := m.repo.Revoke(ctx, keyID)
	return err
}

func (m *Manager) RevokeAllForSession(ctx context.Context, sessionID string) (int, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, ErrInvalidInput
	}
	return m.repo.RevokeBySession(ctx, sessionID)
}

// SweepExpired revoca en bloque las llaves vencidas no revocadas.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	n, err := m.repo.RevokeExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Info("expired keys revoked", map[string]any{"count": n})
	}
	return n, nil
}

type TokenInput struct {
	Key            Key
	ViewingEventID string
	ProfessionalID string
	TTL            time.Duration
}

// IssueToken emite el token de descifrado para una llave ya consumida.
// Vence en now+TTL y sólo puede canjearse una vez.
func (m *Manager) IssueToken(ctx context.Context, in TokenInput) (Token, error) {
	if in.Key.ID == "" || strings.TrimSpace(in.ViewingEventID) == "" || in.TTL <= 0 {
		return Token{}, ErrInvalidInput
	}
	if in.Key.CurrentUses == 0 {
		return Token{}, fmt.Errorf("%w: key not consumed", ErrInvalidInput)
	}

	now := m.now()
	exp := now.Add(in.TTL)

	value, err := m.signer.sign(TokenClaims{
		KeyID:            in.Key.ID,
		SessionID:        in.Key.SessionID,
		PhotoID:          in.Key.PhotoID,
		RegisteredClaims: jwtID(in.ViewingEventID),
	}, in.ProfessionalID, now, exp)
	if err != nil {
		return Token{}, fmt.Errorf("keys: sign token: %w", err)
	}

	if err := m.tokens.Put(ctx, in.ViewingEventID, in.TTL); err != nil {
		return Token{}, fmt.Errorf("keys: register token: %w", err)
	}
	return Token{Value: value, ExpiresAt: exp}, nil
}

// ParseToken valida firma, emisor y vencimiento; no consume el token.
func (m *Manager) ParseToken(raw string) (TokenClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return TokenClaims{}, ErrTokenInvalid
	}
	claims, err := m.signer.parse(raw, m.now)
	if err != nil {
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims, nil
}

// Redeem canjea el token (una sola vez) y devuelve el material descifrado.
func (m *Manager) Redeem(ctx context.Context, claims TokenClaims) ([]byte, error) {
	taken, err := m.tokens.Take(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !taken {
		return nil, ErrTokenInvalid
	}

	k, err := m.repo.GetByID(ctx, claims.KeyID)
	if err != nil {
		return nil, ErrNotFound
	}
	if k.IsRevoked {
		return nil, ErrKeyRevoked
	}
	if k.SessionID != claims.SessionID || k.PhotoID != claims.PhotoID || claims.Subject != k.ProfessionalID {
		return nil, ErrTokenInvalid
	}

	material, params, err := m.wrapper.Open(k.EncryptedKey, k.DerivationParams)
	if err != nil {
		m.log.Error("key unwrap failed", map[string]any{"key_id": k.ID, "err": err})
		return nil, err
	}
	if params.SessionID != k.SessionID || params.PhotoID != k.PhotoID || params.ProfessionalID != k.ProfessionalID {
		zero(material)
		return nil, ErrMalformedKey
	}
	return material, nil
}

// DiscardToken invalida el token de un viewing event (fin de la vista).
func (m *Manager) DiscardToken(ctx context.Context, viewingEventID string) error {
	viewingEventID = strings.TrimSpace(viewingEventID)
	if viewingEventID == "" {
		return nil
	}
	return m.tokens.Discard(ctx, viewingEventID)
}
