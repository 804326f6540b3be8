package events

// Event type identifiers for kelindar/event.
const (
	TypeAcquisitionStateChanged uint32 = iota + 1
	TypeSourceReopened
	TypeSessionStarted
	TypeSessionStopped
	TypeConsumerAttached
	TypeConsumerDetached
	TypeDeliveryError
	TypeDeviceHotplug
	TypeLogEntry
)

// Event is implemented by everything published on the bus.
type Event interface {
	Type() uint32
}

// AcquisitionStateChangedEvent reports a capture loop state transition.
type AcquisitionStateChangedEvent struct {
	Source    string `json:"source" example:"/dev/video0" doc:"Frame source identifier"`
	OldState  string `json:"old_state" example:"opening" doc:"Previous state"`
	NewState  string `json:"new_state" example:"reading" doc:"New state"`
	Error     string `json:"error,omitempty" doc:"Error that caused the transition"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type implements Event.
func (e AcquisitionStateChangedEvent) Type() uint32 { return TypeAcquisitionStateChanged }

// SourceReopenedEvent is published each time the source is opened again
// after end of stream or a read failure.
type SourceReopenedEvent struct {
	Source    string `json:"source" example:"clip.mp4" doc:"Frame source identifier"`
	Reopens   uint64 `json:"reopens" example:"3" doc:"Total reopens since start"`
	Reason    string `json:"reason" example:"eof" doc:"Why the previous open ended"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type implements Event.
func (e SourceReopenedEvent) Type() uint32 { return TypeSourceReopened }

// SessionStartedEvent is published when a mount starts encoding for clients.
type SessionStartedEvent struct {
	Stream    string `json:"stream" example:"video_stream1" doc:"Stream name"`
	SessionID string `json:"session_id" doc:"Encoder session id"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type implements Event.
func (e SessionStartedEvent) Type() uint32 { return TypeSessionStarted }

// SessionStoppedEvent is published when a mount's encoder session ends.
type SessionStoppedEvent struct {
	Stream    string `json:"stream" example:"video_stream1" doc:"Stream name"`
	SessionID string `json:"session_id" doc:"Encoder session id"`
	Reason    string `json:"reason" example:"idle" doc:"Why the session ended"`
	Frames    uint64 `json:"frames" example:"900" doc:"Frames delivered to the encoder"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type implements Event.
func (e SessionStoppedEvent) Type() uint32 { return TypeSessionStopped }

// ConsumerAttachedEvent is published when a client starts watching a stream.
type ConsumerAttachedEvent struct {
	Stream    string `json:"stream" example:"video_stream1" doc:"Stream name"`
	Transport string `json:"transport" example:"rtsp" doc:"rtsp or webrtc"`
	Remote    string `json:"remote,omitempty" example:"192.168.1.20:51234" doc:"Client address"`
	Consumers int    `json:"consumers" example:"2" doc:"Clients attached after this one"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type implements Event.
func (e ConsumerAttachedEvent) Type() uint32 { return TypeConsumerAttached }

// ConsumerDetachedEvent is published when a client leaves a stream.
type ConsumerDetachedEvent struct {
	Stream    string `json:"stream" example:"video_stream1" doc:"Stream name"`
	Transport string `json:"transport" example:"rtsp" doc:"rtsp or webrtc"`
	Remote    string `json:"remote,omitempty" doc:"Client address"`
	Consumers int    `json:"consumers" example:"1" doc:"Clients still attached"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type implements Event.
func (e ConsumerDetachedEvent) Type() uint32 { return TypeConsumerDetached }

// DeliveryErrorEvent summarises buffers the encoder refused. It is rate
// limited per session, Count covers the whole interval.
type DeliveryErrorEvent struct {
	Stream    string `json:"stream" example:"video_stream1" doc:"Stream name"`
	SessionID string `json:"session_id" doc:"Encoder session id"`
	Count     uint64 `json:"count" example:"4" doc:"Rejected buffers since the previous event"`
	Error     string `json:"error" example:"encoder backpressure" doc:"Last rejection reason"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type implements Event.
func (e DeliveryErrorEvent) Type() uint32 { return TypeDeliveryError }

// DeviceHotplugEvent reports a video4linux device appearing or disappearing.
type DeviceHotplugEvent struct {
	Action     string `json:"action" example:"add" doc:"Kernel action: add, remove, change"`
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Device node"`
	Timestamp  string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type implements Event.
func (e DeviceHotplugEvent) Type() uint32 { return TypeDeviceHotplug }

// LogEntryEvent carries one log record to SSE clients.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" example:"2026-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"capture" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type implements Event.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
