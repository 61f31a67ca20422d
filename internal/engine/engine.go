package engine

import (
	"context"

	"github.com/mirageproxy/mirage/internal/domain"
)

// ArtifactKind distinguishes what an engine is asked to produce.
type ArtifactKind string

// Supported artifact kinds.
const (
	ArtifactImage ArtifactKind = "image"
	ArtifactVideo ArtifactKind = "video"
)

// Request describes one generation job handed to an engine together with
// the account chosen to serve it.
type Request struct {
	Kind            ArtifactKind
	Prompt          string
	Model           string
	ReferenceImages []string
	ReferenceVideos []string
	FirstFrameImage string
	LastFrameImage  string
	AspectRatio     string
	DurationSeconds int
}

// Artifact is the engine's output: a locally produced file plus an
// optional secondary file (for video, the extracted last frame).
type Artifact struct {
	Path          string
	MIMEType      string
	LastFramePath string
}

// Engine is the capability boundary between the scheduler and the
// upstream executor. Implementations interpret the account's credential
// bundle themselves; the scheduler treats it as opaque.
//
// Execute is synchronous from the scheduler's perspective even when the
// underlying operation is long-running. The scheduler imposes the
// deadline through ctx: when ctx expires the call is treated as failed
// with FailureTimeout and resources are released regardless of whether
// the upstream work could truly be cancelled. Implementations must
// honor ctx as a best-effort cancellation signal.
//
// Failures must be returned as *Failure with the correct Kind; the
// scheduler never inspects engine error text, only the typed kind.
type Engine interface {
	Execute(ctx context.Context, req Request, account *domain.Account) (*Artifact, error)
}
