package core

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrSwapchainOutOfDate         = errors.New("swapchain out of date, needs to be recreated")
	ErrDeviceLost                 = errors.New("device lost")
	ErrOutOfDescriptors           = errors.New("resource view heap exhausted")
	ErrDynamicBufferPoolExhausted = errors.New("dynamic buffer pool exhausted")
	ErrBackendNotFound            = errors.New("renderer backend not registered")
	ErrNotSupported               = errors.New("feature not supported by device")
	ErrUnknown                    = errors.New("unknown")
)

// Assert guards programmer contracts. A violated contract is logged and turned into a panic
// carrying an assertion-failure error, since continuing would silently corrupt GPU state.
func Assert(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	err := errors.AssertionFailedWithDepthf(1, format, args...)
	getLogger().Error(err.Error())
	panic(err)
}

// IsAssertionFailure reports whether v, typically a recovered panic value, came from Assert.
func IsAssertionFailure(v interface{}) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	return errors.IsAssertionFailure(err)
}
