package storyboard

// Status is the lifecycle state of a single scene.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// FailureKind lets front-ends tell "buy credits" apart from "try again".
// Auth, credits and ledger are authorization failures; render means the image call failed.
type FailureKind string

const (
	FailureNone    FailureKind = ""
	FailureAuth    FailureKind = "auth"
	FailureCredits FailureKind = "credits"
	FailureLedger  FailureKind = "ledger"
	FailureRender  FailureKind = "render"
)

// Scene is one panel of the storyboard.
type Scene struct {
	ID          string
	Description string
	ImageURL    string
	Status      Status
	Error       string
	ErrorKind   FailureKind
	// Attempt is the latest render attempt issued for this scene.
	Attempt int
	// Stale is set when a regeneration failed and ImageURL still shows the last good image.
	// Begin clears it, so it is only ever true on a failed scene.
	Stale bool
}

// HasImage reports whether a render has ever succeeded for this scene.
func (s Scene) HasImage() bool { return s.ImageURL != "" }
