// Package webgpu provides the accelerator device handle used by the
// export pipeline. It wraps cogentcore's zero-CGO WebGPU bindings and
// exposes just enough surface to detect an adapter, place half-precision
// weight buffers on the device, and report adapter metadata.
package webgpu

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// Device is an acquired WebGPU accelerator.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	info wgpu.AdapterInfo

	mu       sync.Mutex
	released bool
}

// IsAvailable reports whether a WebGPU adapter can be acquired on this
// system. It never panics: a missing native library is reported as
// unavailable.
func IsAvailable() (available bool) {
	// Recover from panic if the wgpu native library is not found.
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// New acquires a WebGPU device.
// Returns an error if no compatible adapter is present or the native
// library is missing.
func New() (dev *Device, err error) {
	defer func() {
		if r := recover(); r != nil {
			dev = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", err)
	}

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", err)
	}

	return &Device{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.GetQueue(),
		info:     adapter.GetInfo(),
	}, nil
}

// AdapterName returns a human-readable adapter description for artifact
// metadata.
func (d *Device) AdapterName() string {
	if d.info.Name != "" {
		return d.info.Name
	}
	return d.info.DriverDescription
}

// UploadWeights places half-precision weight buffers on the device and
// reads them back, verifying the round trip. This is the explicit
// device-placement step of the accelerator export: weights that survive
// placement are the exact bytes the serialized artifact carries.
func (d *Device) UploadWeights(weights map[string][]uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return fmt.Errorf("webgpu: device already released")
	}

	for name, half := range weights {
		if len(half) == 0 {
			return fmt.Errorf("webgpu: empty weight buffer %q", name)
		}
		if err := d.roundTrip(name, half); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) roundTrip(name string, half []uint16) error {
	data := wgpu.ToBytes(half)
	// Buffer sizes must be 4-byte aligned; fp16 buffers with an odd
	// element count get one padding element.
	padded := data
	if len(data)%4 != 0 {
		padded = append(append([]byte{}, data...), 0, 0)
	}

	buf, err := d.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    name,
		Contents: padded,
		Usage:    wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("webgpu: create buffer %q: %w", name, err)
	}
	defer buf.Release()

	readback, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: name + ".readback",
		Size:  uint64(len(padded)),
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return fmt.Errorf("webgpu: create readback buffer %q: %w", name, err)
	}
	defer readback.Release()

	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("webgpu: create command encoder: %w", err)
	}
	if err := encoder.CopyBufferToBuffer(buf, 0, readback, 0, uint64(len(padded))); err != nil {
		return fmt.Errorf("webgpu: copy %q: %w", name, err)
	}
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("webgpu: finish command encoder: %w", err)
	}
	d.queue.Submit(cmd)

	var mapErr error
	done := false
	err = readback.MapAsync(wgpu.MapModeRead, 0, uint64(len(padded)), func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("webgpu: map failed with status %v", status)
		}
		done = true
	})
	if err != nil {
		return fmt.Errorf("webgpu: map readback %q: %w", name, err)
	}
	for !done {
		d.device.Poll(true, nil)
	}
	if mapErr != nil {
		return mapErr
	}
	defer readback.Unmap()

	got := readback.GetMappedRange(0, uint(len(padded)))
	for i := range data {
		if got[i] != data[i] {
			return fmt.Errorf("webgpu: readback mismatch in %q at byte %d", name, i)
		}
	}
	return nil
}

// Release frees all GPU resources. Safe to call once.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return
	}
	d.released = true

	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
}
