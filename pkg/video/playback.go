package video

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

//Playback is the clock of a playing video: it advances with wall time while playing and reports positions on frame
//boundaries, the way a video element's currentTime moves one decoded frame at a time.
type Playback struct {
	clock    clock.Clock
	duration time.Duration
	frameDur time.Duration

	mu        sync.Mutex
	playing   bool
	offset    time.Duration //position when playback last started or was paused/seeked
	startedAt time.Time
}

//NewPlayback returns a paused playback at position zero
func NewPlayback(duration time.Duration, fps float64, clk clock.Clock) *Playback {
	if clk == nil {
		clk = clock.New()
	}
	frameDur := time.Duration(0)
	if fps > 0 {
		frameDur = time.Duration(float64(time.Second) / fps)
	}

	return &Playback{clock: clk, duration: duration, frameDur: frameDur}
}

//Duration of the video
func (p *Playback) Duration() time.Duration {
	return p.duration
}

//FrameDuration is the time one frame stays on screen, zero if unknown
func (p *Playback) FrameDuration() time.Duration {
	return p.frameDur
}

//Play starts or resumes playback. Playing an ended video restarts it.
func (p *Playback) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.playing {
		return
	}
	if p.offset >= p.duration {
		p.offset = 0
	}
	p.playing = true
	p.startedAt = p.clock.Now()
}

//Pause freezes the playback position
func (p *Playback) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing {
		return
	}
	p.offset = p.position()
	p.playing = false
}

//Seek moves the playback position, clamped to the video
func (p *Playback) Seek(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pos < 0 {
		pos = 0
	}
	if pos > p.duration {
		pos = p.duration
	}
	p.offset = pos
	p.startedAt = p.clock.Now()
}

//CurrentTime is the start of the frame on screen
func (p *Playback) CurrentTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.position()
	if p.frameDur > 0 && pos < p.duration {
		pos = pos / p.frameDur * p.frameDur
	}

	return pos
}

//Paused reports whether playback is stopped. An ended video is paused.
func (p *Playback) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return !p.playing || p.position() >= p.duration
}

//Ended reports whether the position reached the end of the video
func (p *Playback) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.position() >= p.duration
}

//position is the unquantized position. Callers hold p.mu.
func (p *Playback) position() time.Duration {
	pos := p.offset
	if p.playing {
		pos += p.clock.Since(p.startedAt)
	}
	if pos > p.duration {
		pos = p.duration
	}

	return pos
}
