//go:build !windows

package cv

import (
	"fmt"
	"runtime"
)

// FindWindowCapture is only available on Windows
func FindWindowCapture(title string) (Capturer, error) {
	return nil, fmt.Errorf("window capture of %q is not supported on %s", title, runtime.GOOS)
}
