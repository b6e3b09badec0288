package detect

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/chenBenjamin97/pose-tracker/pkg/utils"
)

//Backend names accepted in configuration
const (
	BackendOpenCV    = "opencv"
	BackendMediapipe = "mediapipe"
)

//CheckEnvironment verifies that the given backend can run on this host before any detection is attempted
func CheckEnvironment(backend string, opts Options, proc ProcessOptions) error {
	switch strings.ToLower(backend) {
	case BackendOpenCV, "":
		if _, err := os.Stat(opts.ModelPath); err != nil {
			return fmt.Errorf("%w: model '%s': %v", ErrUnsupportedEnvironment, opts.ModelPath, err)
		}
		if !utils.InSlice(strings.ToUpper(opts.Delegate), Delegates) {
			return fmt.Errorf("%w: unknown delegate '%s'", ErrUnsupportedEnvironment, opts.Delegate)
		}
	case BackendMediapipe:
		if _, err := exec.LookPath(proc.Python); err != nil {
			return fmt.Errorf("%w: python interpreter '%s': %v", ErrUnsupportedEnvironment, proc.Python, err)
		}
		if _, err := os.Stat(proc.Script); err != nil {
			return fmt.Errorf("%w: landmarker script '%s': %v", ErrUnsupportedEnvironment, proc.Script, err)
		}
	default:
		return fmt.Errorf("%w: unknown backend '%s'", ErrUnsupportedEnvironment, backend)
	}

	return nil
}

//Delegates are the accepted delegate names, upper case
var Delegates = []string{"", "CPU", "GPU", "CUDA", "OPENCL", "VULKAN"}

