package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DeviceClaims is the JWT payload identifying a paired device.
type DeviceClaims struct {
	DeviceID string `json:"device"`
	Kind     string `json:"kind,omitempty"` // "phone" or "watch"
	jwt.RegisteredClaims
}

// TokenManager mints and verifies device tokens for the duplex-link
// handshake. The Ed25519 key pair is derived deterministically from the
// shared access key, so both devices and the server agree without any key
// exchange.
type TokenManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewTokenManager derives the signing key pair from an access key.
func NewTokenManager(accessKey string) (*TokenManager, error) {
	if accessKey == "" {
		return nil, fmt.Errorf("empty access key")
	}
	seed := sha256.Sum256([]byte(accessKey))
	privateKey := ed25519.NewKeyFromSeed(seed[:])
	publicKey := privateKey.Public().(ed25519.PublicKey)

	return &TokenManager{
		privateKey: privateKey,
		publicKey:  publicKey,
	}, nil
}

// CreateToken mints a device token.
func (m *TokenManager) CreateToken(deviceID, kind string) (string, error) {
	claims := DeviceClaims{
		DeviceID: deviceID,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "wristlink",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(m.privateKey)
}

// VerifyToken verifies and parses a device token.
func (m *TokenManager) VerifyToken(tokenString string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*DeviceClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
