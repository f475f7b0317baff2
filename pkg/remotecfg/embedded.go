package remotecfg

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pulsar-metering/pulsar-go/pkg/meter"
	"github.com/pulsar-metering/pulsar-go/pkg/settings"
)

// minEmbeddedSize is the smallest body worth inspecting for an embedded
// configuration document.
const minEmbeddedSize = 10

// ErrNoDocument - the response body does not carry a configuration
// document. Not an error condition for the caller, just "nothing to do".
var ErrNoDocument = errors.New("no config document in response")

// ApplyFromResponse applies a configuration document embedded in the body
// of an unrelated data-submission response. The body qualifies only if it
// is non-trivially sized, within the document ceiling, begins with '{' or
// '[', parses, and authenticates; then the normal merge runs.
func ApplyFromResponse(body []byte, deviceKey string, sett *settings.Settings,
	snap meter.Snapshot, sctx *meter.SessionContext, periph meter.Peripheral,
	logger *slog.Logger) (Result, error) {

	if len(body) < minEmbeddedSize {
		return Result{}, ErrNoDocument
	}
	// Backstop for bodies that arrived from a path without the bounded
	// response validator.
	if int64(len(body)) > MaxDocumentSize {
		return Result{}, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(body), MaxDocumentSize)
	}
	if body[0] != '{' && body[0] != '[' {
		return Result{}, ErrNoDocument
	}

	doc, err := ParseDocument(body)
	if err != nil {
		return Result{}, err
	}

	if err := Authenticate(doc, deviceKey); err != nil {
		if errors.Is(err, ErrKeyMissing) {
			// A keyless body is a plain acknowledgement, not an attack.
			return Result{}, ErrNoDocument
		}
		return Result{}, err
	}

	if logger != nil {
		logger.Info("configuration document embedded in response")
	}
	return Apply(doc, sett, snap, sctx, periph, logger), nil
}
