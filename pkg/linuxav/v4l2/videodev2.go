//go:build linux

package v4l2

import "unsafe"

// v4l2Capability mirrors struct v4l2_capability, 104 bytes on every arch.
type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

var _ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}

// _IOR('V', 0, struct v4l2_capability)
const vidiocQuerycap = 0x80685600
