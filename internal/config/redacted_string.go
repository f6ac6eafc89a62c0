package config

import (
	"encoding/json"
	"fmt"
)

// RedactedString is a string that never reveals its value when printed, logged or marshalled.
type RedactedString string

func (r RedactedString) String() string {
	return fmt.Sprintf("<redacted-%d-chars>", len(r))
}

func (r RedactedString) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r RedactedString) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r RedactedString) MarshalBinary() ([]byte, error) {
	return []byte(r.String()), nil
}

// Value returns the underlying secret. Only call it where the secret is handed to a library.
func (r RedactedString) Value() string {
	return string(r)
}
