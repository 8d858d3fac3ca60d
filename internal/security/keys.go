package security

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidKey is returned when PEM or key type is invalid.
var ErrInvalidKey = errors.New("invalid key")

// ErrWeakSecret is returned when an HMAC secret is shorter than MinSecretLength bytes.
var ErrWeakSecret = errors.New("hmac secret too short")

// MinSecretLength is the minimum HMAC secret length in bytes (HS256 key size).
const MinSecretLength = 32

// SigningKey signs and verifies one class of tokens. Access and refresh tokens
// each get their own SigningKey so a leak of one cannot mint the other.
type SigningKey struct {
	method jwt.SigningMethod
	sign   interface{}
	verify interface{}
}

// NewHMACKey returns an HS256 SigningKey for secret.
func NewHMACKey(secret []byte) (SigningKey, error) {
	if len(secret) < MinSecretLength {
		return SigningKey{}, ErrWeakSecret
	}
	s := bytes.Clone(secret)
	return SigningKey{method: jwt.SigningMethodHS256, sign: s, verify: s}, nil
}

// NewAsymmetricKey returns an RS256, ES256/384/512 or EdDSA SigningKey for signer.
func NewAsymmetricKey(signer crypto.Signer) (SigningKey, error) {
	if signer == nil {
		return SigningKey{}, ErrInvalidKey
	}
	method := signingMethodFor(signer.Public())
	if method == nil {
		return SigningKey{}, ErrInvalidKey
	}
	return SigningKey{method: method, sign: signer, verify: signer.Public()}, nil
}

// LoadSigningKey builds a SigningKey from configuration. s may be inline PEM, a path to a
// PEM file, a path to a file holding a raw secret, or the raw HMAC secret itself.
func LoadSigningKey(s string) (SigningKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SigningKey{}, ErrInvalidKey
	}
	if looksLikePEM(s) {
		signer, err := ParsePrivateKey(s)
		if err != nil {
			return SigningKey{}, err
		}
		return NewAsymmetricKey(signer)
	}
	if fi, err := os.Stat(s); err == nil && fi.Mode().IsRegular() {
		b, err := os.ReadFile(s)
		if err != nil {
			return SigningKey{}, err
		}
		content := strings.TrimSpace(string(b))
		if looksLikePEM(content) {
			signer, err := ParsePrivateKey(content)
			if err != nil {
				return SigningKey{}, err
			}
			return NewAsymmetricKey(signer)
		}
		return NewHMACKey([]byte(content))
	}
	return NewHMACKey([]byte(s))
}

// Alg returns the JWT "alg" header value for the key, or "" for the zero value.
func (k SigningKey) Alg() string {
	if k.method == nil {
		return ""
	}
	return k.method.Alg()
}

// IsZero reports whether the key was never initialised.
func (k SigningKey) IsZero() bool { return k.method == nil }

// Equal reports whether k and other would verify each other's tokens.
func (k SigningKey) Equal(other SigningKey) bool {
	if k.method == nil || other.method == nil || k.Alg() != other.Alg() {
		return false
	}
	if a, ok := k.verify.([]byte); ok {
		b, ok := other.verify.([]byte)
		return ok && bytes.Equal(a, b)
	}
	pub, ok := k.verify.(interface{ Equal(crypto.PublicKey) bool })
	return ok && pub.Equal(other.verify)
}

func signingMethodFor(pub crypto.PublicKey) jwt.SigningMethod {
	switch p := pub.(type) {
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		switch p.Curve.Params().BitSize {
		case 256:
			return jwt.SigningMethodES256
		case 384:
			return jwt.SigningMethodES384
		case 521:
			return jwt.SigningMethodES512
		}
		return nil
	case ed25519.PublicKey:
		return jwt.SigningMethodEdDSA
	default:
		return nil
	}
}

func looksLikePEM(s string) bool {
	return strings.HasPrefix(s, "-----BEGIN")
}

// LoadPEM reads content from path if s does not look like inline PEM; otherwise returns s as bytes.
// Literal "\n" sequences in inline PEM (common in env files) are turned into newlines.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if looksLikePEM(s) {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	return os.ReadFile(s)
}

// ParsePrivateKey parses a PEM-encoded private key (RSA, ECDSA or Ed25519). s may be inline PEM or a file path.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, ErrInvalidKey
		}
		return signer, nil
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}
