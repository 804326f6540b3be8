// Package process runs the ffmpeg helpers as supervised subprocesses.
//
// A Process owns one child:
//   - stderr (and stdout unless RawStdout is set) is logged line by line,
//     re-levelled by an optional LogParser
//   - stdin and stdout can be exposed as pipes for streaming raw video
//   - Stop closes stdin, sends SIGINT and falls back to SIGKILL after
//     GracefulTimeout
//
// Example:
//
//	p := process.New(process.Options{
//		ID:        "decode",
//		Args:      []string{"ffmpeg", "-i", "in.mp4", "-f", "rawvideo", "pipe:1"},
//		Logger:    logging.GetLogger("source"),
//		LogParser: ffmpeg.ParseLogLevel,
//		RawStdout: true,
//	})
//	if err := p.Start(); err != nil {
//		return err
//	}
//	defer p.Stop()
//	io.ReadFull(p.Stdout(), buf)
package process
