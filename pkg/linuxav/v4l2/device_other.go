//go:build !linux

package v4l2

import (
	"errors"
	"strconv"
)

var errUnsupported = errors.New("v4l2 is only available on linux")

// DevicePath returns the node path for a device index.
func DevicePath(index int) string {
	return "/dev/video" + strconv.Itoa(index)
}

// QueryCapability is not supported on this platform.
func QueryCapability(string) (Capability, error) {
	return Capability{}, errUnsupported
}

// IsCaptureDevice is not supported on this platform.
func IsCaptureDevice(string) (bool, error) {
	return false, errUnsupported
}

// FindDevices returns no devices on this platform.
func FindDevices() ([]DeviceInfo, error) {
	return []DeviceInfo{}, nil
}
