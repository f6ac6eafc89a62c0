package db

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/SwissDataScienceCenter/renku-portal/internal/models"
)

// TokenSealer encrypts the tokens of a session with AES-GCM before they reach redis. The
// session ID is the additional data, a sealed token copied into another session cannot be
// opened there.
type TokenSealer struct {
	aead cipher.AEAD
}

func NewTokenSealer(key string) (TokenSealer, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return TokenSealer{}, fmt.Errorf("invalid token encryption key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return TokenSealer{}, err
	}
	return TokenSealer{aead: aead}, nil
}

// Seal returns a copy of the token set with the access, refresh and ID tokens encrypted.
func (s TokenSealer) Seal(sessionID string, tokens models.TokenSet) (models.TokenSet, error) {
	sealed := tokens
	for _, field := range []*string{&sealed.AccessToken, &sealed.RefreshToken, &sealed.IDToken} {
		value, err := s.seal(sessionID, *field)
		if err != nil {
			return models.TokenSet{}, err
		}
		*field = value
	}
	return sealed, nil
}

// Open reverses Seal.
func (s TokenSealer) Open(sessionID string, tokens models.TokenSet) (models.TokenSet, error) {
	opened := tokens
	for _, field := range []*string{&opened.AccessToken, &opened.RefreshToken, &opened.IDToken} {
		value, err := s.open(sessionID, *field)
		if err != nil {
			return models.TokenSet{}, err
		}
		*field = value
	}
	return opened, nil
}

func (s TokenSealer) seal(sessionID, plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, []byte(plain), []byte(sessionID))
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (s TokenSealer) open(sessionID, sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("sealed token is not valid base64: %w", err)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", fmt.Errorf("sealed token is too short")
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(sessionID))
	if err != nil {
		return "", fmt.Errorf("cannot open sealed token: %w", err)
	}
	return string(plain), nil
}
