package transcoder

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEncodeTimeout is returned when the ladder does not finish within the
// configured encoder timeout
var ErrEncodeTimeout = errors.New("encode timed out")

// maxStderrInError caps how much ffmpeg output Error() repeats
const maxStderrInError = 4096

// EncodeError reports a failed rendition along with ffmpeg's diagnostics
type EncodeError struct {
	Label  string
	Err    error
	Stderr string
}

func (e *EncodeError) Error() string {
	msg := fmt.Sprintf("encode rendition %s: %v", e.Label, e.Err)
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return msg
	}
	if len(stderr) > maxStderrInError {
		stderr = "..." + stderr[len(stderr)-maxStderrInError:]
	}
	return msg + ", stderr: " + stderr
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
