package video

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestPlayback(t *testing.T) {
	mock := clock.NewMock()
	p := NewPlayback(time.Second, 25, mock)

	assert.Equal(t, 40*time.Millisecond, p.FrameDuration())
	assert.True(t, p.Paused())
	assert.False(t, p.Ended())
	assert.Equal(t, time.Duration(0), p.CurrentTime())

	mock.Add(100 * time.Millisecond)
	assert.Equal(t, time.Duration(0), p.CurrentTime(), "a paused video does not move")

	p.Play()
	assert.False(t, p.Paused())
	mock.Add(50 * time.Millisecond)
	assert.Equal(t, 40*time.Millisecond, p.CurrentTime(), "positions are quantized to frames")
	mock.Add(25 * time.Millisecond)
	assert.Equal(t, 40*time.Millisecond, p.CurrentTime())
	mock.Add(10 * time.Millisecond)
	assert.Equal(t, 80*time.Millisecond, p.CurrentTime())

	p.Pause()
	mock.Add(time.Second)
	assert.True(t, p.Paused())
	assert.Equal(t, 80*time.Millisecond, p.CurrentTime())

	p.Play()
	mock.Add(2 * time.Second)
	assert.True(t, p.Ended())
	assert.True(t, p.Paused(), "an ended video reports paused")
	assert.Equal(t, time.Second, p.CurrentTime())

	p.Play()
	assert.False(t, p.Ended(), "playing an ended video restarts it")
	assert.Equal(t, time.Duration(0), p.CurrentTime())
}

func TestPlaybackSeek(t *testing.T) {
	mock := clock.NewMock()
	p := NewPlayback(time.Second, 0, mock)

	p.Seek(300 * time.Millisecond)
	assert.Equal(t, 300*time.Millisecond, p.CurrentTime())

	p.Play()
	mock.Add(15 * time.Millisecond)
	assert.Equal(t, 315*time.Millisecond, p.CurrentTime(), "unknown frame rate keeps raw positions")

	p.Seek(-time.Second)
	assert.Equal(t, time.Duration(0), p.CurrentTime())

	p.Seek(5 * time.Second)
	assert.True(t, p.Ended())
}
