package dnn

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
)

//rawOutputs builds network outputs where every joint sits at the given network pixel
func rawOutputs(px, py, presenceLogit float32) (screen, world []float32) {
	screen = make([]float32, netLandmarks*netScreenValues)
	world = make([]float32, netLandmarks*netWorldValues)
	for i := 0; i < netLandmarks; i++ {
		screen[i*netScreenValues+0] = px
		screen[i*netScreenValues+1] = py
		screen[i*netScreenValues+2] = 12.8
		screen[i*netScreenValues+3] = 10
		screen[i*netScreenValues+4] = presenceLogit
		world[i*netWorldValues+0] = float32(i) / 100
		world[i*netWorldValues+1] = 0.5
		world[i*netWorldValues+2] = -0.25
	}
	return screen, world
}

func TestLetterbox(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	square, lb := letterbox(img)

	assert.Equal(t, 200, square.Bounds().Dx())
	assert.Equal(t, 200, square.Bounds().Dy())
	assert.Equal(t, letterboxInfo{side: 200, padX: 0, padY: 50, width: 200, height: 100}, lb)
}

func TestDecodeOutputs(t *testing.T) {
	lb := letterboxInfo{side: 200, padX: 0, padY: 50, width: 200, height: 100}
	screen, world := rawOutputs(128, 128, 10)

	res, err := decodeOutputs(screen, []float32{0.9}, world, lb, 0.5, 0.5)
	require.NoError(t, err)
	require.True(t, res.HasLandmarks())

	require.Len(t, res.WorldLandmarks[0], pose.NumJoints, "only the 33 joints are kept")
	assert.InDelta(t, 0.05, res.WorldLandmarks[0][5].X, 1e-6)
	assert.InDelta(t, 0.5, res.WorldLandmarks[0][5].Y, 1e-6)

	//center of the padded square is the center of the frame
	l := res.Landmarks[0][pose.Nose]
	assert.InDelta(t, 0.5, l.X, 1e-6)
	assert.InDelta(t, 0.5, l.Y, 1e-6)
	assert.InDelta(t, 0.05, l.Z, 1e-6)
	assert.Greater(t, l.Visibility, 0.99)
}

func TestDecodeOutputsThresholds(t *testing.T) {
	lb := letterboxInfo{side: 256, width: 256, height: 256}

	screen, world := rawOutputs(10, 10, 10)
	res, err := decodeOutputs(screen, []float32{0.2}, world, lb, 0.5, 0.5)
	require.NoError(t, err)
	assert.False(t, res.HasLandmarks(), "pose flag under threshold")

	res, err = decodeOutputs(screen, []float32{-5}, world, lb, 0.5, 0.5)
	require.NoError(t, err)
	assert.False(t, res.HasLandmarks(), "raw logits go through a sigmoid")

	screen, world = rawOutputs(10, 10, -10)
	res, err = decodeOutputs(screen, []float32{0.9}, world, lb, 0.5, 0.5)
	require.NoError(t, err)
	assert.False(t, res.HasLandmarks(), "joints not present")

	_, err = decodeOutputs(screen[:10], []float32{0.9}, world, lb, 0.5, 0.5)
	assert.Error(t, err)
}

func TestNetTarget(t *testing.T) {
	for _, d := range []string{"", "cpu", "GPU", "opencl", "Vulkan"} {
		_, _, err := netTarget(d)
		assert.NoError(t, err, d)
	}
	_, _, err := netTarget("tpu")
	assert.Error(t, err)
}
