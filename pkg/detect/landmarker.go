package detect

import (
	"context"
	"image"
	"time"

	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
)

//Mode is the running mode of a landmarker
type Mode int

const (
	//ModeVideo tracks a body across frames with increasing timestamps
	ModeVideo Mode = iota
	//ModeImage detects each image independently
	ModeImage
)

func (m Mode) String() string {
	if m == ModeImage {
		return "IMAGE"
	}

	return "VIDEO"
}

//Options configure a landmarker. Zero values are replaced by DefaultOptions.
type Options struct {
	ModelPath                  string
	Delegate                   string //"CPU" or "GPU"
	NumPoses                   int
	MinPoseDetectionConfidence float64
	MinPosePresenceConfidence  float64
	MinTrackingConfidence      float64
	RunningMode                Mode
}

//DefaultOptions are the options the landmarker runs with unless configured otherwise
func DefaultOptions() Options {
	return Options{
		ModelPath:                  "./models/pose_landmarker_heavy.onnx",
		Delegate:                   "GPU",
		NumPoses:                   1,
		MinPoseDetectionConfidence: 0.5,
		MinPosePresenceConfidence:  0.5,
		MinTrackingConfidence:      0.5,
		RunningMode:                ModeVideo,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ModelPath == "" {
		o.ModelPath = def.ModelPath
	}
	if o.Delegate == "" {
		o.Delegate = def.Delegate
	}
	if o.NumPoses <= 0 {
		o.NumPoses = def.NumPoses
	}
	if o.MinPoseDetectionConfidence <= 0 {
		o.MinPoseDetectionConfidence = def.MinPoseDetectionConfidence
	}
	if o.MinPosePresenceConfidence <= 0 {
		o.MinPosePresenceConfidence = def.MinPosePresenceConfidence
	}
	if o.MinTrackingConfidence <= 0 {
		o.MinTrackingConfidence = def.MinTrackingConfidence
	}

	return o
}

//Landmarker is a stateful pose landmark model. Implementations are not safe for concurrent use; Detector
//serializes every call.
type Landmarker interface {
	//SetMode switches between single image and video detection
	SetMode(ctx context.Context, mode Mode) error
	//Detect runs one detection on a still image. Only valid in ModeImage.
	Detect(img image.Image) (*pose.Result, error)
	//DetectForVideo runs one detection on a video frame. Only valid in ModeVideo, timestamps must increase.
	DetectForVideo(frame image.Image, timestamp time.Duration) (*pose.Result, error)
	Close() error
}

//Factory creates and initializes a landmarker. It may block on model loading and must honour ctx.
type Factory func(ctx context.Context, opts Options) (Landmarker, error)
