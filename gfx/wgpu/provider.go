package wgpu

import (
	"fmt"

	"github.com/gogpu/gpucontext"
)

// DeviceHandle is an alias for gpucontext.DeviceProvider, letting host
// applications hand their device to the renderer without importing
// gpucontext through this package's callers.
type DeviceHandle = gpucontext.DeviceProvider

// NewFromContext creates a device that shares the GPU of a host
// application exposing a gpucontext provider. The provider must also
// expose the underlying hal handles (HalDevice/HalQueue); windowing
// front ends built on gogpu do.
func NewFromContext(provider DeviceHandle) (*Device, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidProvider)
	}
	if _, ok := provider.(halProvider); !ok {
		return nil, fmt.Errorf("%w: provider has no hal handles", ErrInvalidProvider)
	}
	return NewWithProvider(provider)
}
