package keys

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize es el tamaño del material de llave y de la llave de wrap.
	KeySize = 32

	saltSize    = 16
	wrapVersion = 0x01
	headerSize  = 1 + chacha20poly1305.NonceSizeX

	wrapInfo      = "medshare.ephemeral-key.wrap.v1"
	bindingDomain = "medshare.ephemeral-key.binding.v1"
)

var ErrMalformedKey = errors.New("malformed key material")

// derivationParams liga la llave a (sesión, foto, profesional, emisión).
// Se serializa en CBOR determinístico: los mismos params producen los mismos bytes.
type derivationParams struct {
	SessionID       string `cbor:"1,keyasint"`
	PhotoID         string `cbor:"2,keyasint"`
	ProfessionalID  string `cbor:"3,keyasint"`
	IssuedAt        int64  `cbor:"4,keyasint"`
	ValidityMinutes int    `cbor:"5,keyasint"`
	Salt            []byte `cbor:"6,keyasint"`
}

var (
	paramsEncMode cbor.EncMode
	paramsDecMode cbor.DecMode
)

func init() {
	var err error
	paramsEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("keys: CBOR encoder initialization failed: " + err.Error())
	}
	paramsDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("keys: CBOR decoder initialization failed: " + err.Error())
	}
}

// Wrapper cifra el material de cada llave efímera con una llave de wrap
// derivada (HKDF-SHA256) de la master key y de los params de la llave.
type Wrapper struct {
	master [KeySize]byte
	rand   io.Reader
}

func NewWrapper(secret string) (*Wrapper, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("keys: empty wrap secret")
	}
	return &Wrapper{
		master: blake3.Sum256([]byte(secret)),
		rand:   rand.Reader,
	}, nil
}

// Seal genera material nuevo y lo devuelve cifrado junto con los params codificados.
func (w *Wrapper) Seal(p derivationParams) (encryptedKey, encodedParams string, err error) {
	if len(p.Salt) == 0 {
		p.Salt = make([]byte, saltSize)
		if _, err := io.ReadFull(w.rand, p.Salt); err != nil {
			return "", "", fmt.Errorf("keys: salt: %w", err)
		}
	}

	raw, err := paramsEncMode.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("keys: encode params: %w", err)
	}

	material := make([]byte, KeySize)
	if _, err := io.ReadFull(w.rand, material); err != nil {
		return "", "", fmt.Errorf("keys: key material: %w", err)
	}
	defer zero(material)

	digest := w.binding(raw)
	aead, err := w.aead(p.Salt, digest)
	if err != nil {
		return "", "", err
	}

	blob := make([]byte, headerSize, headerSize+len(material)+aead.Overhead())
	blob[0] = wrapVersion
	nonce := blob[1:headerSize]
	if _, err := io.ReadFull(w.rand, nonce); err != nil {
		return "", "", fmt.Errorf("keys: nonce: %w", err)
	}
	blob = aead.Seal(blob, nonce, material, buildAAD(wrapVersion, digest))

	return base64.RawURLEncoding.EncodeToString(blob), base64.RawURLEncoding.EncodeToString(raw), nil
}

// Open descifra el material. Falla si los params no son los mismos con los
// que se cifró (la AAD incluye su digest).
func (w *Wrapper) Open(encryptedKey, encodedParams string) ([]byte, derivationParams, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encodedParams)
	if err != nil {
		return nil, derivationParams{}, ErrMalformedKey
	}
	var p derivationParams
	if err := paramsDecMode.Unmarshal(raw, &p); err != nil {
		return nil, derivationParams{}, ErrMalformedKey
	}

	blob, err := base64.RawURLEncoding.DecodeString(encryptedKey)
	if err != nil || len(blob) < headerSize+chacha20poly1305.Overhead {
		return nil, derivationParams{}, ErrMalformedKey
	}
	if blob[0] != wrapVersion {
		return nil, derivationParams{}, fmt.Errorf("keys: unsupported wrap version %d", blob[0])
	}

	digest := w.binding(raw)
	aead, err := w.aead(p.Salt, digest)
	if err != nil {
		return nil, derivationParams{}, err
	}

	material, err := aead.Open(nil, blob[1:headerSize], blob[headerSize:], buildAAD(blob[0], digest))
	if err != nil {
		return nil, derivationParams{}, fmt.Errorf("keys: unwrap failed: %w", err)
	}
	return material, p, nil
}

func (w *Wrapper) binding(encodedParams []byte) [32]byte {
	hasher, err := blake3.NewKeyed(w.master[:])
	if err != nil {
		panic("keys: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(bindingDomain))
	hasher.Write(encodedParams)
	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}

func (w *Wrapper) aead(salt []byte, digest [32]byte) (cipher.AEAD, error) {
	info := make([]byte, 0, len(wrapInfo)+len(digest))
	info = append(info, wrapInfo...)
	info = append(info, digest[:]...)

	wrapKey := make([]byte, KeySize)
	defer zero(wrapKey)
	if _, err := io.ReadFull(hkdf.New(sha256.New, w.master[:], salt, info), wrapKey); err != nil {
		return nil, fmt.Errorf("keys: HKDF derivation failed: %w", err)
	}

	aead, err := chacha20poly1305.NewX(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("keys: aead init: %w", err)
	}
	return aead, nil
}

func buildAAD(version byte, digest [32]byte) []byte {
	aad := make([]byte, 1+len(digest))
	aad[0] = version
	copy(aad[1:], digest[:])
	return aad
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
