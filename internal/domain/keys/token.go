package keys

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenAudience va en el aud de todo token de descifrado; un bearer token
// firmado con el mismo secreto no lo trae y se rechaza.
const TokenAudience = "medshare-decryption"

// TokenClaims viajan firmados (HS256) en el token de descifrado.
// El jti (RegisteredClaims.ID) es el id del viewing event que lo originó.
type TokenClaims struct {
	KeyID     string `json:"kid"`
	SessionID string `json:"sid"`
	PhotoID   string `json:"pid"`
	jwt.RegisteredClaims
}

func (c TokenClaims) ViewingEventID() string {
	return c.ID
}

type TokenConfig struct {
	Secret string
	Issuer string
}

type tokenSigner struct {
	secret []byte
	issuer string
}

func newTokenSigner(cfg TokenConfig) (*tokenSigner, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("keys: empty token secret")
	}
	return &tokenSigner{secret: []byte(cfg.Secret), issuer: cfg.Issuer}, nil
}

func (s *tokenSigner) sign(claims TokenClaims, subject string, now, exp time.Time) (string, error) {
	claims.RegisteredClaims.Subject = subject
	claims.RegisteredClaims.Issuer = s.issuer
	claims.RegisteredClaims.Audience = jwt.ClaimStrings{TokenAudience}
	claims.RegisteredClaims.IssuedAt = jwt.NewNumericDate(now)
	claims.RegisteredClaims.ExpiresAt = jwt.NewNumericDate(exp)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *tokenSigner) parse(raw string, now func() time.Time) (TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithAudience(TokenAudience),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return TokenClaims{}, err
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return TokenClaims{}, jwt.ErrTokenInvalidClaims
	}
	if claims.ID == "" || claims.KeyID == "" {
		return TokenClaims{}, jwt.ErrTokenInvalidClaims
	}
	return *claims, nil
}

func jwtID(id string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{ID: id}
}
