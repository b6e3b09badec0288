package video

import (
	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
)

//TraceFile is the JSON document written for every traced video
type TraceFile struct {
	Source string  `json:"source"`
	FPS    float64 `json:"fps"`
	//Frames is keyed by frame index. Frames without a detected body are missing.
	Frames map[int]*TracedFrame `json:"frames"`
}

//TracedFrame holds the pose found in one frame
type TracedFrame struct {
	Timestamp float64                  `json:"timestamp"` //seconds since the beginning of the video
	Mediapipe map[string]pose.Landmark `json:"mediapipe"` //normalized image landmarks by joint name
	Positions pose.ConvertedPosition   `json:"positions"`
}

//NewTraceFile returns an empty trace of given video
func NewTraceFile(source string, fps float64) *TraceFile {
	return &TraceFile{
		Source: source,
		FPS:    fps,
		Frames: make(map[int]*TracedFrame),
	}
}
