package tess

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrSplitLimit is reported when a primitive is still splitting after
	// Options.MaxSplits generations. Only the affected branch is abandoned.
	ErrSplitLimit = errors.New("tess: split limit exceeded")

	// ErrInconsistentMotionKeys is reported when the motion keys of a
	// deforming primitive produce different numbers of pieces or grids.
	ErrInconsistentMotionKeys = errors.New("tess: inconsistent motion keys")

	// ErrNoMotionKeys is returned when a deforming primitive has no keys.
	ErrNoMotionKeys = errors.New("tess: deforming geometry needs at least one motion key")

	// ErrNilGeometry is returned when a nil Geometry is submitted.
	ErrNilGeometry = errors.New("tess: nil geometry")

	// ErrInvalidOptions wraps every Options validation failure.
	ErrInvalidOptions = errors.New("tess: invalid options")
)

// BranchError describes a primitive whose branch of the split tree was
// abandoned. The rest of the render is unaffected.
type BranchError struct {
	// SplitCount is the generation of the failing holder.
	SplitCount int
	// Bound is the camera-space bound of the failing holder.
	Bound r3.Box
	// Err is the cause.
	Err error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("tess: branch abandoned at split %d: %v", e.SplitCount, e.Err)
}

func (e *BranchError) Unwrap() error { return e.Err }
