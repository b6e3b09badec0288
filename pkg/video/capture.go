package video

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

//maxSequentialSkip is how many frames Frame decodes forward before it prefers a seek
const maxSequentialSkip = 8

//CaptureVideo is a video file played on a Playback clock. It decodes the frame under the playback position on demand.
type CaptureVideo struct {
	*Playback

	name   string
	cap    *gocv.VideoCapture
	frames int

	mu      sync.Mutex
	mat     gocv.Mat
	next    int //index of the frame the next sequential read returns
	lastIdx int
	last    image.Image
}

//OpenCapture opens given video file, paused at its beginning
func OpenCapture(videoPath string, clk clock.Clock) (*CaptureVideo, error) {
	cap, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		return nil, fmt.Errorf("OpenCapture: could not open '%s': %w", videoPath, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("OpenCapture: could not open '%s'", videoPath)
	}

	fps := cap.Get(gocv.VideoCaptureFPS)
	frames := cap.Get(gocv.VideoCaptureFrameCount)
	if fps <= 0 || frames <= 0 {
		cap.Close()
		return nil, fmt.Errorf("OpenCapture: '%s' reports %v frames at %v fps", videoPath, frames, fps)
	}
	duration := time.Duration(frames / fps * float64(time.Second))

	return &CaptureVideo{
		Playback: NewPlayback(duration, fps, clk),
		name:     videoPath,
		cap:      cap,
		frames:   int(frames),
		mat:      gocv.NewMat(),
		lastIdx:  -1,
	}, nil
}

//Frame decodes the frame at the current playback position
func (c *CaptureVideo) Frame() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cap == nil {
		return nil, errors.New("Frame: capture is closed")
	}

	idx := int(c.CurrentTime() / c.FrameDuration())
	if idx >= c.frames {
		idx = c.frames - 1
	}
	if idx == c.lastIdx && c.last != nil {
		return c.last, nil
	}

	seek, reads := readPlan(idx, c.next)
	if seek {
		c.cap.Set(gocv.VideoCapturePosFrames, float64(idx))
		c.next = idx
	}
	for i := 0; i < reads; i++ {
		if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
			return nil, fmt.Errorf("Frame: could not read frame %d of '%s'", c.next, c.name)
		}
		c.next++
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("Frame: could not convert frame %d of '%s': %w", idx, c.name, err)
	}
	c.lastIdx, c.last = idx, img

	return img, nil
}

//Close releases the decoder
func (c *CaptureVideo) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cap == nil {
		return nil
	}
	err := multierr.Combine(c.mat.Close(), c.cap.Close())
	c.cap = nil

	return err
}

//readPlan decides how to reach frame idx when the decoder stands before frame next: whether to seek first, and how
//many frames to read. Small forward gaps are decoded through instead of seeking.
func readPlan(idx, next int) (seek bool, reads int) {
	if idx < next || idx-next > maxSequentialSkip {
		return true, 1
	}

	return false, idx - next + 1
}
