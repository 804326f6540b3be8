package v4l2

// DeviceInfo describes one V4L2 capture node.
type DeviceInfo struct {
	Index      int    // N in /dev/videoN
	DevicePath string // /dev/videoN
	DeviceName string // card name reported by the driver
	Driver     string
	BusInfo    string
	DeviceID   string // stable id from /dev/v4l/by-id, or synthesised from bus info
	Caps       uint32
}

// Capability is the decoded result of VIDIOC_QUERYCAP.
type Capability struct {
	Driver  string
	Card    string
	BusInfo string
	Version uint32
	// Caps holds the device capabilities when the driver reports them,
	// otherwise the physical device capabilities.
	Caps uint32
}

// Capability flags.
const (
	CapVideoCapture       = 0x00000001
	CapVideoCaptureMplane = 0x00001000
	CapStreaming          = 0x04000000
	capDeviceCaps         = 0x80000000
)

// CanCapture reports whether the node delivers video frames.
func (c Capability) CanCapture() bool {
	return c.Caps&(CapVideoCapture|CapVideoCaptureMplane) != 0
}
