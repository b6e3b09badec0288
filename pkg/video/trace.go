package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/hashicorp/go-hclog"
	"gocv.io/x/gocv"

	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
	"github.com/chenBenjamin97/pose-tracker/pkg/tracker"
)

const progressTemplate = `{{ string . "prefix" }} {{counters . }} {{bar . }} {{percent . }} {{rtime . "%s remain"}}`

//TraceOptions customizes Trace
type TraceOptions struct {
	//Progress receives a progress bar when set
	Progress io.Writer
	Logger   hclog.Logger
}

//frameReader yields the frames of a video in order, io.EOF after the last one
type frameReader interface {
	Next() (image.Image, error)
}

type captureReader struct {
	cap *gocv.VideoCapture
	mat gocv.Mat
}

func (r *captureReader) Next() (image.Image, error) {
	if ok := r.cap.Read(&r.mat); !ok || r.mat.Empty() {
		return nil, io.EOF
	}

	return r.mat.ToImage()
}

//Trace tracks the pose through every frame of srcPath and writes the result as a JSON TraceFile to outPath.
//Frames the detector fails on are skipped. The trace file only appears once it is complete.
func Trace(ctx context.Context, detector tracker.FrameDetector, srcPath, outPath string, opts TraceOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	if err := detector.Initialize(ctx); err != nil {
		return err
	}

	cap, err := gocv.VideoCaptureFile(srcPath)
	if err != nil {
		return fmt.Errorf("Trace: could not open '%s': %w", srcPath, err)
	}
	defer cap.Close()

	mat := gocv.NewMat()
	defer mat.Close()

	fps := cap.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		return fmt.Errorf("Trace: '%s' has no frame rate", srcPath)
	}
	total := int(cap.Get(gocv.VideoCaptureFrameCount))

	var bar *pb.ProgressBar
	if opts.Progress != nil {
		bar = pb.ProgressBarTemplate(progressTemplate).New(total).SetWriter(opts.Progress)
		bar.Set("prefix", filepath.Base(srcPath))
		bar.Start()
		defer bar.Finish()
	}

	trace := NewTraceFile(filepath.Base(srcPath), fps)
	if err := traceFrames(ctx, detector, &captureReader{cap: cap, mat: mat}, trace, bar, logger); err != nil {
		return err
	}

	logger.Info("traced video", "source", srcPath, "frames", total, "detected", len(trace.Frames))

	return writeTrace(trace, outPath)
}

func traceFrames(ctx context.Context, detector tracker.FrameDetector, frames frameReader, trace *TraceFile, bar *pb.ProgressBar, logger hclog.Logger) error {
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		img, err := frames.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if bar != nil {
			bar.Increment()
		}
		if err != nil {
			logger.Warn("could not decode frame, skipping", "frame", idx, "error", err)
			continue
		}

		res, err := detector.DetectVideoFrame(ctx, img)
		if err != nil {
			logger.Warn("error processing video frame, skipping", "frame", idx, "error", err)
			continue
		}
		positions, err := pose.WorldPositions(res)
		if err != nil {
			continue
		}

		trace.Frames[idx] = &TracedFrame{
			Timestamp: (time.Duration(float64(idx) / trace.FPS * float64(time.Second))).Seconds(),
			Mediapipe: res.FirstPose().ByName(),
			Positions: positions,
		}
	}
}

//writeTrace writes next to outPath under a hidden name first, so listings never show a partial trace
func writeTrace(trace *TraceFile, outPath string) error {
	tmpPath := filepath.Join(filepath.Dir(outPath), "."+filepath.Base(outPath)+".tmp")

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("Trace: could not create '%s': %w", tmpPath, err)
	}
	defer os.Remove(tmpPath)

	if err := json.NewEncoder(f).Encode(trace); err != nil {
		f.Close()
		return fmt.Errorf("Trace: could not write '%s': %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("Trace: could not write '%s': %w", tmpPath, err)
	}

	return os.Rename(tmpPath, outPath)
}
