//go:build linux

package v4l2

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"unsafe"
)

// Filesystem roots, replaced in tests.
var (
	sysfsRoot = "/sys/class/video4linux"
	devRoot   = "/dev"
	byIDRoot  = "/dev/v4l/by-id"
)

// DevicePath returns the node path for a device index.
func DevicePath(index int) string {
	return filepath.Join(devRoot, "video"+strconv.Itoa(index))
}

// QueryCapability runs VIDIOC_QUERYCAP on the node at path.
func QueryCapability(path string) (Capability, error) {
	fd, err := openDevice(path)
	if err != nil {
		return Capability{}, err
	}
	defer syscall.Close(fd)

	var raw v4l2Capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&raw)); err != nil {
		return Capability{}, fmt.Errorf("VIDIOC_QUERYCAP %s: %w", path, err)
	}
	return decodeCapability(&raw), nil
}

// IsCaptureDevice reports whether path is a V4L2 node that can capture video.
func IsCaptureDevice(path string) (bool, error) {
	c, err := QueryCapability(path)
	if err != nil {
		return false, err
	}
	return c.CanCapture(), nil
}

// FindDevices lists the video capture nodes, ordered by index.
func FindDevices() ([]DeviceInfo, error) {
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return []DeviceInfo{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", sysfsRoot, err)
	}

	devices := []DeviceInfo{}
	for _, entry := range entries {
		name := entry.Name()
		index, ok := nodeIndex(name)
		if !ok {
			continue
		}

		path := filepath.Join(devRoot, name)
		c, err := QueryCapability(path)
		if err != nil {
			slog.With("component", "linuxav").Debug("Skipping video node", "path", path, "error", err)
			continue
		}
		if !c.CanCapture() {
			continue
		}

		devices = append(devices, DeviceInfo{
			Index:      index,
			DevicePath: path,
			DeviceName: c.Card,
			Driver:     c.Driver,
			BusInfo:    c.BusInfo,
			DeviceID:   stableID(name, readSysfsInt(filepath.Join(sysfsRoot, name, "index")), c.BusInfo),
			Caps:       c.Caps,
		})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices, nil
}

func decodeCapability(raw *v4l2Capability) Capability {
	caps := raw.capabilities
	if caps&capDeviceCaps != 0 {
		caps = raw.deviceCaps
	}
	return Capability{
		Driver:  cstr(raw.driver[:]),
		Card:    cstr(raw.card[:]),
		BusInfo: cstr(raw.busInfo[:]),
		Version: raw.version,
		Caps:    caps,
	}
}

// nodeIndex parses "video3" into 3.
func nodeIndex(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "video")
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// stableID finds the /dev/v4l/by-id link for the node, falling back to an
// id derived from the bus info.
func stableID(nodeName string, streamIndex int, busInfo string) string {
	suffix := fmt.Sprintf("-video-index%d", streamIndex)
	if entries, err := os.ReadDir(byIDRoot); err == nil {
		for _, entry := range entries {
			if entry.Type()&os.ModeSymlink == 0 || !strings.HasSuffix(entry.Name(), suffix) {
				continue
			}
			target, err := os.Readlink(filepath.Join(byIDRoot, entry.Name()))
			if err == nil && filepath.Base(target) == nodeName {
				return entry.Name()
			}
		}
	}

	if strings.HasPrefix(busInfo, "usb-") {
		return busInfo + suffix
	}
	return "platform-" + busInfo + suffix
}

func readSysfsInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	v, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return v
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
