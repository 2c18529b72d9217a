package cache

import "fmt"

// ComputeError reports a failed computation on a cache miss. Every caller
// waiting on the same computation receives the same ComputeError.
type ComputeError struct {
	Cache string
	Key   string
	Err   error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("cache %s: computing %q: %v", e.Cache, e.Key, e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}
