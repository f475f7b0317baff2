package remotecfg

import "errors"

// keyField is the authentication field of a configuration document.
const keyField = "key"

// Authentication errors. Neither is retryable, and a failed document must
// never be partially applied.
var (
	// ErrKeyMissing - the document carries no authentication field.
	ErrKeyMissing = errors.New("config document has no device key")

	// ErrKeyMismatch - the document's key does not equal the device key.
	ErrKeyMismatch = errors.New("config document key mismatch")
)

// Authenticate confirms the document originates from an authorized source
// for this device. Exact string equality only; no partial or
// case-insensitive matching. Must succeed before any other field of the
// document is consulted.
func Authenticate(doc Document, deviceKey string) error {
	got, ok := doc.String(keyField)
	if !ok {
		return ErrKeyMissing
	}
	if got != deviceKey {
		return ErrKeyMismatch
	}
	return nil
}
