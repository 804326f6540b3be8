package ffmpeg

import "strings"

// ParseLogLevel splits an ffmpeg stderr line produced with -loglevel
// level+X into its level and message. Lines look like "[info] message" or
// "[h264 @ 0x55d0] [warning] message"; the component prefix is kept.
// Bare key=value lines from -progress are reported at trace.
func ParseLogLevel(line string) (level, msg string) {
	if isProgressLine(line) {
		return "trace", line
	}
	if len(line) < 3 || line[0] != '[' {
		return "info", line
	}

	end := strings.Index(line, "] ")
	if end == -1 {
		return "info", line
	}
	if tag := line[1:end]; isLogLevel(tag) {
		return tag, line[end+2:]
	}

	prefix, rest := line[:end+2], line[end+2:]
	if strings.HasPrefix(rest, "[") {
		if next := strings.Index(rest, "] "); next != -1 && isLogLevel(rest[1:next]) {
			return rest[1:next], prefix + rest[next+2:]
		}
	}
	return "info", line
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}

func isProgressLine(line string) bool {
	key, _, ok := strings.Cut(line, "=")
	return ok && key != "" && !strings.ContainsAny(key, " [")
}
