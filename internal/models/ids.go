package models

import (
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/oklog/ulid/v2"
)

// IDGenerator hands out identifiers for sessions, login states and token sets.
type IDGenerator interface {
	ID() (string, error)
}

type IDFunc func() (string, error)

func (f IDFunc) ID() (string, error) {
	return f()
}

// TokenSetIDs are ULIDs, token sets sort by the time of the login that issued them.
var TokenSetIDs IDGenerator = IDFunc(func() (string, error) {
	id, err := ulid.New(ulid.Now(), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
})

// OpaqueIDs returns URL safe identifiers made of size random bytes.
func OpaqueIDs(size int) IDGenerator {
	return IDFunc(func() (string, error) {
		b := make([]byte, size)
		if _, err := io.ReadFull(rand.Reader, b); err != nil {
			return "", err
		}
		return base64.RawURLEncoding.EncodeToString(b), nil
	})
}
