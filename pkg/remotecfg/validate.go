package remotecfg

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxDocumentSize is the ceiling for any configuration-bearing response
// body, in bytes. Sized for the full field set with headroom; anything
// larger is hostile or malfunctioning.
const MaxDocumentSize = 2048

// Bounded response validator errors. None of these are retryable.
var (
	// ErrBadStatus - the response status was not 200.
	ErrBadStatus = errors.New("unexpected response status")

	// ErrUnknownLength - the server did not declare a positive body size.
	// An undeclared size is untrusted, not assumed safe.
	ErrUnknownLength = errors.New("response size not declared")

	// ErrTooLarge - the declared body size exceeds the ceiling.
	ErrTooLarge = errors.New("response body too large")
)

// ReadBounded turns a status/size-annotated response into a safely-sized
// body or a rejection. The checks run strictly in order - status, declared
// size present, declared size within ceiling - and only if all three hold
// is the body read into memory. No allocation proportional to a
// remote-controlled size happens before the checks pass.
func ReadBounded(status int, declaredSize int64, maxSize int64, body io.Reader) ([]byte, error) {
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, status)
	}
	if declaredSize <= 0 {
		return nil, ErrUnknownLength
	}
	if declaredSize > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, declaredSize, maxSize)
	}

	// The limit guards against a server that lies about Content-Length
	// and streams more than it declared.
	data, err := io.ReadAll(io.LimitReader(body, declaredSize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}

// ReadBoundedResponse applies ReadBounded to an *http.Response using its
// ContentLength metadata. The caller still owns closing the body.
func ReadBoundedResponse(resp *http.Response, maxSize int64) ([]byte, error) {
	return ReadBounded(resp.StatusCode, resp.ContentLength, maxSize, resp.Body)
}
