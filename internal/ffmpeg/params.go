package ffmpeg

// InputKind selects how the decoder opens its input.
type InputKind int

// Input kinds.
const (
	InputFile InputKind = iota
	InputDevice
	InputNetwork
	InputTestPattern
)

// DecodeParams describes a decode-to-rawvideo command.
type DecodeParams struct {
	Kind  InputKind
	Input string // file path, URL or /dev/videoN; unused for test patterns

	// Width, Height and FPS request a capture mode from devices and size the
	// test pattern. Zero leaves the source default.
	Width  int
	Height int
	FPS    float64

	Realtime bool   // read files at native rate (-re)
	LogLevel string // ffmpeg -loglevel, default "warning"
}

// EncodeParams describes a rawvideo-to-H.264 RTSP push command.
type EncodeParams struct {
	Width  int
	Height int
	FPS    float64

	Encoder string // libx264 unless set
	Preset  string
	Tune    string
	GOP     int // keyframe interval in frames, 0 = 2 seconds
	Bitrate string

	OutputURL string // rtsp://127.0.0.1:8554/video_stream1
	Progress  bool   // emit -progress key=value lines on stdout
	LogLevel  string
}

// ProbeParams describes an ffprobe invocation for the first video stream.
type ProbeParams struct {
	Kind  InputKind
	Input string
}
