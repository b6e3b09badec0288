package detect

import (
	"errors"
	"fmt"

	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
)

var (
	//ErrInitialization means the landmark model could not be loaded. It is not retried automatically.
	ErrInitialization = errors.New("pose landmarker initialization failed")
	//ErrInitTimeout is an ErrInitialization caused by the init timeout
	ErrInitTimeout = fmt.Errorf("%w: timed out", ErrInitialization)
	//ErrDetection means a single detection call failed
	ErrDetection = errors.New("pose detection failed")
	//ErrNoLandmarks is an ErrDetection for a result without any body
	ErrNoLandmarks = fmt.Errorf("%w: %w", ErrDetection, pose.ErrNoLandmarks)
	//ErrUserCancelled means no media was selected. Callers treat it as a silent no-op.
	ErrUserCancelled = errors.New("no media selected")
	//ErrUnsupportedEnvironment means this host cannot run the configured landmarker at all
	ErrUnsupportedEnvironment = errors.New("environment cannot run pose detection")
	//ErrClosed is returned by a detector used after Close
	ErrClosed = errors.New("detector closed")
)
