package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckEnvironment(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "pose_landmarker.onnx")
	require.NoError(t, os.WriteFile(model, []byte("model"), 0644))
	script := filepath.Join(dir, "landmarker.py")
	require.NoError(t, os.WriteFile(script, []byte("print()"), 0644))
	self, err := os.Executable()
	require.NoError(t, err)

	tests := []struct {
		name    string
		backend string
		opts    Options
		proc    ProcessOptions
		wantErr bool
	}{
		{name: "opencv ready", backend: BackendOpenCV, opts: Options{ModelPath: model, Delegate: "cpu"}},
		{name: "default backend", backend: "", opts: Options{ModelPath: model, Delegate: "GPU"}},
		{name: "missing model", backend: BackendOpenCV, opts: Options{ModelPath: filepath.Join(dir, "none.onnx")}, wantErr: true},
		{name: "unknown delegate", backend: BackendOpenCV, opts: Options{ModelPath: model, Delegate: "TPU"}, wantErr: true},
		{name: "mediapipe ready", backend: BackendMediapipe, proc: ProcessOptions{Python: self, Script: script}},
		{name: "missing interpreter", backend: BackendMediapipe, proc: ProcessOptions{Python: filepath.Join(dir, "no-python"), Script: script}, wantErr: true},
		{name: "missing script", backend: BackendMediapipe, proc: ProcessOptions{Python: self, Script: filepath.Join(dir, "none.py")}, wantErr: true},
		{name: "unknown backend", backend: "tflite", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckEnvironment(tt.backend, tt.opts, tt.proc)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedEnvironment)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
