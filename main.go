package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/camrelay/cmd"
	"github.com/smazurov/camrelay/internal/api"
	"github.com/smazurov/camrelay/internal/config"
	"github.com/smazurov/camrelay/internal/events"
	"github.com/smazurov/camrelay/internal/logging"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `doc:"Path to configuration file" short:"c" default:"camrelay.toml"`

	// Source settings
	Video       string `doc:"Video source (required): device index, /dev/videoN, file, URL or testsrc[:WxH]" short:"v" toml:"source.video" env:"VIDEO"`
	FPS         int    `doc:"Frames per second" default:"30" toml:"source.fps" env:"FPS"`
	ImageWidth  int    `doc:"Output width in pixels" default:"1280" toml:"source.image_width" env:"IMAGE_WIDTH"`
	ImageHeight int    `doc:"Output height in pixels" default:"720" toml:"source.image_height" env:"IMAGE_HEIGHT"`
	Pacing      string `doc:"Publish pacing (fixed, drift)" default:"fixed" toml:"source.pacing" env:"PACING"`

	// RTSP settings
	Port            int    `doc:"RTSP port" short:"p" default:"8554" toml:"rtsp.port" env:"PORT"`
	StreamCount     int    `doc:"Number of /video_streamN mounts" default:"2" toml:"rtsp.stream_count" env:"STREAM_COUNT"`
	Host            string `doc:"Address advertised in stream URLs (default: outbound interface)" toml:"rtsp.host" env:"HOST"`
	ProducerTimeout string `doc:"How long a new session waits for its encoder" default:"10s" toml:"rtsp.producer_timeout" env:"PRODUCER_TIMEOUT"`
	IdleTimeout     string `doc:"How long a session outlives its last client" default:"15s" toml:"rtsp.idle_timeout" env:"IDLE_TIMEOUT"`

	// Encoder settings
	Preset     string `doc:"libx264 preset" default:"ultrafast" toml:"encoder.preset" env:"ENCODER_PRESET"`
	Tune       string `doc:"libx264 tune" default:"zerolatency" toml:"encoder.tune" env:"ENCODER_TUNE"`
	GOP        int    `doc:"Keyframe interval in frames (0: two seconds)" default:"0" toml:"encoder.gop" env:"ENCODER_GOP"`
	QueueDepth int    `doc:"Frames buffered per encoder before backpressure" default:"2" toml:"encoder.queue_depth" env:"ENCODER_QUEUE_DEPTH"`

	// HTTP settings
	HTTPPort     int    `doc:"HTTP API port (0 disables)" default:"8090" toml:"http.port" env:"HTTP_PORT"`
	AuthUsername string `doc:"Basic auth username (empty disables auth)" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `doc:"Basic auth password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel  string `doc:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `doc:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		loggingConfig, logErr := config.LoadLogging(opts.Config)
		if logErr != nil && !os.IsNotExist(logErr) {
			slog.Warn("Failed to load logging config", "error", logErr)
		}
		loggingConfig.Level = opts.LoggingLevel
		loggingConfig.Format = opts.LoggingFormat
		logging.Initialize(loggingConfig)

		bus := events.New()
		logging.SetEntryCallback(func(e logging.Entry) {
			bus.Publish(api.LogEvent(e))
		})

		logger := logging.GetLogger("main")
		ctx, cancel := context.WithCancel(context.Background())

		// Built for every command, started only by the default one.
		r, relayErr := newRelay(opts, bus)

		hooks.OnStart(func() {
			if relayErr != nil {
				logger.Error("Invalid configuration", "error", relayErr)
				os.Exit(1)
			}
			if err := r.start(ctx); err != nil {
				logger.Error("Failed to start", "error", err)
				r.stop()
				os.Exit(1)
			}
			r.watchConfig(ctx, opts.Config)
			<-ctx.Done()
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			cancel()
			if r != nil {
				r.stop()
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())

	cli.Run()
}
