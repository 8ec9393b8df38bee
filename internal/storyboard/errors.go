package storyboard

import (
	"errors"
	"fmt"

	"github.com/nerdneilsfield/storyboarder/pkg/storyapi"
)

var (
	ErrSceneNotFound = errors.New("scene not found")
	// ErrNoImage is returned by Save when the scene has nothing to persist yet.
	ErrNoImage = errors.New("scene has no image")
	// ErrNoUser is returned by Save when there is no signed-in owner.
	ErrNoUser = errors.New("user id is required")

	// Re-exported from the wire client so callers only need this package.
	ErrAuthRequired        = storyapi.ErrAuthRequired
	ErrInsufficientCredits = storyapi.ErrInsufficientCredits
	ErrMalformedResponse   = storyapi.ErrMalformedResponse
)

// TransportError is the wire client's network / non-2xx error.
type TransportError = storyapi.TransportError

// UploadError means the image bytes could not be fetched or stored as a blob.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// WriteError means the blob was stored but the record insert or delete failed.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s record: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// classifyLedgerError maps an Authorize failure onto a FailureKind.
func classifyLedgerError(err error) FailureKind {
	switch {
	case errors.Is(err, ErrAuthRequired):
		return FailureAuth
	case errors.Is(err, ErrInsufficientCredits):
		return FailureCredits
	default:
		return FailureLedger
	}
}
