//go:build linux

// Package v4l2 queries Video4Linux2 devices without cgo.
//
// It covers what the relay needs before handing a device to ffmpeg:
// enumerating capture nodes and checking that a node can capture video.
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%d %s: %s\n", dev.Index, dev.DevicePath, dev.DeviceName)
//	}
package v4l2
