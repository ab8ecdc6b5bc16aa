//go:build !gocv

package cv

// DefaultCorrelator returns the pure-Go correlator. Build with -tags gocv to use OpenCV.
func DefaultCorrelator() Correlator {
	return &NativeCorrelator{}
}
