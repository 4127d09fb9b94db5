// Package vkutil collects the small Vulkan-adjacent helpers shared by every
// component package: result-to-error wrapping, panic recovery, and
// null-terminated C string staging. Debug-report logging lives in
// internal/vklog.
package vkutil

import (
	"fmt"
	"runtime"

	vk "github.com/vulkan-go/vulkan"
)

// IsError reports whether ret is anything other than vk.Success.
func IsError(ret vk.Result) bool {
	return ret != vk.Success
}

// NewError wraps a non-success vk.Result into an error carrying the caller's
// source location, or returns nil for vk.Success.
func NewError(ret vk.Result) error {
	if ret == vk.Success {
		return nil
	}
	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		return fmt.Errorf("vulkan error: %s (%d)", vk.Error(ret).Error(), ret)
	}
	fn := runtime.FuncForPC(pc)
	name := "unknown"
	if fn != nil {
		name = fn.Name()
	}
	return fmt.Errorf("vulkan error: %s (%d) at %s:%d (%s)", vk.Error(ret).Error(), ret, file, line, name)
}

// MustSucceed panics if err is non-nil, after running any supplied cleanup
// finalizers. No code in this module calls it; construction paths return
// their errors instead.
func MustSucceed(err error, finalizers ...func()) {
	if err != nil {
		for _, fn := range finalizers {
			fn()
		}
		panic(err)
	}
}

// Recover turns a recovered panic into an error assigned through errp. It is
// installed via `defer vkutil.Recover(&err)` at the outward Backend boundary
// (§7: encoders assert-and-abort below that boundary; this is where the
// abort is converted back into a returned error).
func Recover(errp *error) {
	if v := recover(); v != nil {
		if err, ok := v.(error); ok {
			*errp = err
			return
		}
		*errp = fmt.Errorf("%+v", v)
	}
}
