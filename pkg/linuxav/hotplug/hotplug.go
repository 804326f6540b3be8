//go:build linux

// Package hotplug listens for kernel uevents on a netlink socket, without cgo
// or libudev, so the relay can react to cameras being plugged back in.
package hotplug

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"syscall"
)

// Kernel actions of interest.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
)

// SubsystemVideo4Linux is the subsystem of /dev/videoN nodes.
const SubsystemVideo4Linux = "video4linux"

// NETLINK_KOBJECT_UEVENT
const netlinkKobjectUEvent = 15

// Event is one parsed uevent.
type Event struct {
	Action    string
	KObj      string // sysfs path of the kernel object
	Subsystem string
	DevName   string // e.g. "video0"
	Env       map[string]string
}

// Node returns the /dev path of the event's device, or "" if it has none.
func (e Event) Node() string {
	if e.DevName == "" {
		return ""
	}
	if strings.HasPrefix(e.DevName, "/") {
		return e.DevName
	}
	return "/dev/" + e.DevName
}

// Monitor receives uevents for a fixed set of subsystems.
type Monitor struct {
	fd         int
	subsystems map[string]bool
}

// NewMonitor opens the netlink socket. With no subsystems every event passes.
func NewMonitor(subsystems ...string) (*Monitor, error) {
	fd, err := syscall.Socket(syscall.AF_NETLINK, syscall.SOCK_DGRAM|syscall.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}
	if err := syscall.Bind(fd, &syscall.SockaddrNetlink{Family: syscall.AF_NETLINK, Groups: 1}); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	// Wake up once a second so cancellation is noticed.
	tv := syscall.Timeval{Sec: 1}
	if err := syscall.SetsockoptTimeval(fd, syscall.SOL_SOCKET, syscall.SO_RCVTIMEO, &tv); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	m := &Monitor{fd: fd, subsystems: make(map[string]bool, len(subsystems))}
	for _, s := range subsystems {
		m.subsystems[s] = true
	}
	return m, nil
}

// Close releases the socket.
func (m *Monitor) Close() error {
	return syscall.Close(m.fd)
}

// Run delivers matching events to fn until ctx ends or the socket fails.
func (m *Monitor) Run(ctx context.Context, fn func(Event)) error {
	buf := make([]byte, 8192)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, _, err := syscall.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
				continue
			}
			return err
		}

		ev, ok := ParseUEvent(buf[:n])
		if !ok {
			continue
		}
		if len(m.subsystems) > 0 && !m.subsystems[ev.Subsystem] {
			continue
		}
		fn(ev)
	}
}

// ParseUEvent decodes "ACTION@KOBJ\0KEY=VALUE\0...". Messages re-broadcast
// by libudev carry a binary header that is skipped.
func ParseUEvent(data []byte) (Event, bool) {
	if bytes.HasPrefix(data, []byte("libudev")) {
		data = skipLibudevHeader(data)
	}

	fields := bytes.Split(data, []byte{0})
	if len(fields) == 0 {
		return Event{}, false
	}
	action, kobj, found := strings.Cut(string(fields[0]), "@")
	if !found || action == "" {
		return Event{}, false
	}

	ev := Event{Action: action, KObj: kobj, Env: make(map[string]string)}
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(string(f), "=")
		if !ok || key == "" {
			continue
		}
		ev.Env[key] = value
		switch key {
		case "SUBSYSTEM":
			ev.Subsystem = value
		case "DEVNAME":
			ev.DevName = value
		}
	}
	return ev, true
}

func skipLibudevHeader(data []byte) []byte {
	for i := 0; i < len(data)-1; i++ {
		if data[i] != 0 {
			continue
		}
		rest := data[i+1:]
		if at := bytes.IndexByte(rest, '@'); at > 0 && at < 20 {
			return rest
		}
	}
	return data
}
