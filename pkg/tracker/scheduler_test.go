package tracker

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
)

const ms = time.Millisecond

//scriptVideo replays one playback state per tick. A tick starts with the Ended call; once the script is
//exhausted the video reports it has ended.
type scriptVideo struct {
	mu       sync.Mutex
	times    []time.Duration
	paused   []bool
	tick     int
	frameErr error
	neverEnd bool
}

func (v *scriptVideo) Ended() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tick++
	return !v.neverEnd && v.tick > len(v.times)
}

func (v *scriptVideo) idx() int {
	if v.tick-1 >= len(v.times) {
		return len(v.times) - 1
	}
	return v.tick - 1
}

func (v *scriptVideo) CurrentTime() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.times[v.idx()]
}

func (v *scriptVideo) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused != nil && v.paused[v.idx()]
}

func (v *scriptVideo) Frame() (image.Image, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.frameErr != nil {
		return nil, v.frameErr
	}
	//the frame carries its playback position so the detector can tell frames apart
	return &positionFrame{at: v.times[v.idx()]}, nil
}

type positionFrame struct {
	at time.Duration
}

func (f *positionFrame) ColorModel() color.Model { return color.RGBAModel }
func (f *positionFrame) Bounds() image.Rectangle { return image.Rect(0, 0, 1, 1) }
func (f *positionFrame) At(int, int) color.Color { return color.RGBA{} }

type fakeDetector struct {
	mu       sync.Mutex
	initErr  error
	calls    []time.Duration
	failOn   map[int]error
	emptyOn  map[int]bool
	initRuns int32
}

func (d *fakeDetector) Initialize(context.Context) error {
	atomic.AddInt32(&d.initRuns, 1)
	return d.initErr
}

func (d *fakeDetector) DetectVideoFrame(_ context.Context, frame image.Image) (*pose.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at := frame.(*positionFrame).at
	d.calls = append(d.calls, at)
	n := len(d.calls)
	if err := d.failOn[n]; err != nil {
		return nil, err
	}
	if d.emptyOn[n] {
		return &pose.Result{}, nil
	}
	return &pose.Result{WorldLandmarks: []pose.SkeletonPose{{{X: at.Seconds(), Y: 1, Z: 0.5}}}}, nil
}

func (d *fakeDetector) detections() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.calls...)
}

//newTestSession builds a session whose ticks are driven by the test
func newTestSession(det FrameDetector, video Video) *Session {
	sess := New(det).newSession(video)
	sess.frames = make(chan Frame, 64)
	return sess
}

func drain(sess *Session) []time.Duration {
	var got []time.Duration
	for {
		select {
		case f := <-sess.frames:
			got = append(got, f.Timestamp)
		default:
			return got
		}
	}
}

func TestTickStaticPositionDetectsOnce(t *testing.T) {
	times := make([]time.Duration, 20)
	for i := range times {
		times[i] = 500 * ms
	}
	video := &scriptVideo{times: times, neverEnd: true}
	det := &fakeDetector{}
	sess := newTestSession(det, video)

	for range times {
		require.True(t, sess.tick(context.Background()))
	}

	assert.Len(t, det.detections(), 1)
	assert.Equal(t, []time.Duration{500 * ms}, drain(sess))
}

func TestTickDetectsOnlyWhenPositionAdvances(t *testing.T) {
	//position increases on ticks 1, 3 and 5 only
	video := &scriptVideo{times: []time.Duration{40 * ms, 40 * ms, 80 * ms, 80 * ms, 120 * ms, 120 * ms}, neverEnd: true}
	det := &fakeDetector{}
	sess := newTestSession(det, video)

	var detectedOn []int
	for tick := 1; tick <= 6; tick++ {
		before := len(det.detections())
		require.True(t, sess.tick(context.Background()))
		if len(det.detections()) > before {
			detectedOn = append(detectedOn, tick)
		}
	}

	assert.Equal(t, []int{1, 3, 5}, detectedOn)
	assert.Equal(t, []time.Duration{40 * ms, 80 * ms, 120 * ms}, drain(sess), "frames are forwarded in order")
}

func TestTickSkipsStartPausedAndRepeatedFrames(t *testing.T) {
	//positions 0, 0.04, 0.04, 0.08 with the video paused on the third tick
	video := &scriptVideo{
		times:    []time.Duration{0, 40 * ms, 40 * ms, 80 * ms},
		paused:   []bool{false, false, true, false},
		neverEnd: true,
	}
	det := &fakeDetector{}
	sess := newTestSession(det, video)

	for i := 0; i < 4; i++ {
		require.True(t, sess.tick(context.Background()))
	}

	assert.Equal(t, []time.Duration{40 * ms, 80 * ms}, det.detections())
}

func TestTickPausedVideo(t *testing.T) {
	video := &scriptVideo{
		times:    []time.Duration{40 * ms, 80 * ms, 80 * ms},
		paused:   []bool{true, true, false},
		neverEnd: true,
	}
	det := &fakeDetector{}
	sess := newTestSession(det, video)

	for i := 0; i < 3; i++ {
		require.True(t, sess.tick(context.Background()))
	}

	assert.Empty(t, det.detections(), "a position seen while paused is not detected again after resuming")
}

func TestTickDetectorFailureDoesNotStopTracking(t *testing.T) {
	video := &scriptVideo{times: []time.Duration{40 * ms, 80 * ms, 120 * ms}, neverEnd: true}
	det := &fakeDetector{failOn: map[int]error{1: errors.New("inference failed")}}
	sess := newTestSession(det, video)

	for i := 0; i < 3; i++ {
		require.True(t, sess.tick(context.Background()))
	}

	assert.Equal(t, []time.Duration{40 * ms, 80 * ms, 120 * ms}, det.detections())
	assert.Equal(t, []time.Duration{80 * ms, 120 * ms}, drain(sess))
	assert.Equal(t, Running, sess.State())
}

func TestTickEmptyResultIsNotForwarded(t *testing.T) {
	video := &scriptVideo{times: []time.Duration{40 * ms, 80 * ms}, neverEnd: true}
	det := &fakeDetector{emptyOn: map[int]bool{1: true}}
	sess := newTestSession(det, video)

	require.True(t, sess.tick(context.Background()))
	require.True(t, sess.tick(context.Background()))

	assert.Equal(t, []time.Duration{80 * ms}, drain(sess))
}

func TestTickFrameReadFailure(t *testing.T) {
	video := &scriptVideo{times: []time.Duration{40 * ms}, frameErr: errors.New("decode"), neverEnd: true}
	det := &fakeDetector{}
	sess := newTestSession(det, video)

	require.True(t, sess.tick(context.Background()))
	assert.Empty(t, det.detections())
}

func TestTickAfterStop(t *testing.T) {
	video := &scriptVideo{times: []time.Duration{40 * ms, 80 * ms}, neverEnd: true}
	det := &fakeDetector{}
	sess := newTestSession(det, video)

	require.True(t, sess.tick(context.Background()))
	sess.Stop()
	sess.Stop()

	assert.False(t, sess.tick(context.Background()))
	assert.False(t, sess.tick(context.Background()))
	assert.Len(t, det.detections(), 1)
	assert.Equal(t, Stopped, sess.State())
}

func TestTickEnded(t *testing.T) {
	video := &scriptVideo{times: []time.Duration{40 * ms}}
	det := &fakeDetector{}
	sess := newTestSession(det, video)

	require.True(t, sess.tick(context.Background()))
	assert.False(t, sess.tick(context.Background()))
	assert.Equal(t, Completed, sess.State())

	sess.Stop()
	assert.Equal(t, Completed, sess.State(), "stopping a completed session keeps it completed")
	assert.Len(t, det.detections(), 1)
}

func TestStartRejectsInitializationFailure(t *testing.T) {
	initErr := errors.New("model unavailable")
	sched := New(&fakeDetector{initErr: initErr})

	sess, err := sched.Start(context.Background(), &scriptVideo{times: []time.Duration{40 * ms}})
	assert.ErrorIs(t, err, initErr)
	assert.Nil(t, sess)

	sess, err = sched.Track(context.Background(), &scriptVideo{times: []time.Duration{40 * ms}}, nil, nil)
	assert.ErrorIs(t, err, initErr)
	assert.Nil(t, sess)
}

//advance keeps moving the mock clock until cond holds
func advance(t *testing.T, mock *clock.Mock, cond func() bool) {
	t.Helper()
	assert.Eventually(t, func() bool {
		mock.Add(DefaultInterval)
		return cond()
	}, 2*time.Second, time.Millisecond)
}

func TestTrackRunsUntilVideoEnds(t *testing.T) {
	mock := clock.NewMock()
	video := &scriptVideo{times: []time.Duration{40 * ms, 40 * ms, 80 * ms, 120 * ms}}
	det := &fakeDetector{}
	sched := New(det, WithClock(mock))

	var mu sync.Mutex
	var frames []time.Duration
	var completed int32
	sess, err := sched.Track(context.Background(), video, func(f Frame) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, f.Timestamp)
	}, func() {
		atomic.AddInt32(&completed, 1)
	})
	require.NoError(t, err)

	advance(t, mock, func() bool { return atomic.LoadInt32(&completed) == 1 })

	<-sess.Done()
	assert.Equal(t, Completed, sess.State())

	for i := 0; i < 5; i++ {
		mock.Add(DefaultInterval)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&completed), "completion is announced exactly once")
	assert.Equal(t, []time.Duration{40 * ms, 80 * ms, 120 * ms}, det.detections(), "no detection after the end")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{40 * ms, 80 * ms, 120 * ms}, frames)
}

func TestTrackStop(t *testing.T) {
	mock := clock.NewMock()
	times := make([]time.Duration, 1000)
	for i := range times {
		times[i] = time.Duration(i+1) * 40 * ms
	}
	video := &scriptVideo{times: times}
	det := &fakeDetector{}
	sched := New(det, WithClock(mock))

	var completed int32
	sess, err := sched.Track(context.Background(), video, nil, func() { atomic.AddInt32(&completed, 1) })
	require.NoError(t, err)

	advance(t, mock, func() bool { return len(det.detections()) >= 3 })

	sess.Stop()
	<-sess.Done()
	after := len(det.detections())

	for i := 0; i < 10; i++ {
		mock.Add(DefaultInterval)
	}
	sess.Stop()

	assert.Equal(t, after, len(det.detections()), "no detection after stop")
	assert.Equal(t, Stopped, sess.State())
	time.Sleep(10 * ms)
	assert.Equal(t, int32(0), atomic.LoadInt32(&completed), "a stopped session never completes")
}

func TestStartContextCancel(t *testing.T) {
	mock := clock.NewMock()
	video := &scriptVideo{times: []time.Duration{40 * ms}, neverEnd: true}
	sched := New(&fakeDetector{}, WithClock(mock))

	ctx, cancel := context.WithCancel(context.Background())
	sess, err := sched.Start(ctx, video)
	require.NoError(t, err)

	f := <-sess.Frames()
	assert.Equal(t, 40*ms, f.Timestamp)
	assert.InDelta(t, 4, f.Positions[0].X(), 1e-9)

	cancel()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after cancel")
	}
	assert.Equal(t, Stopped, sess.State())

	_, open := <-sess.Frames()
	assert.False(t, open)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "stopped", Stopped.String())
}
