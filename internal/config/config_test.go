package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

type testOptions struct {
	Config string

	Video       string        `toml:"source.video" env:"VIDEO"`
	FPS         int           `toml:"source.fps" env:"FPS"`
	Rate        float64       `toml:"source.rate" env:"RATE"`
	Debug       bool          `toml:"debug" env:"DEBUG"`
	IdleTimeout time.Duration `toml:"rtsp.idle_timeout" env:"IDLE_TIMEOUT"`
	Hosts       []string      `toml:"rtsp.hosts" env:"HOSTS"`
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camrelay.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeFile(t, `
debug = true

[source]
video = "/dev/video2"
fps = 25
rate = 29.97

[rtsp]
idle_timeout = "30s"
hosts = ["a", "b"]
`)
	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatal(err)
	}

	want := &testOptions{
		Config:      path,
		Video:       "/dev/video2",
		FPS:         25,
		Rate:        29.97,
		Debug:       true,
		IdleTimeout: 30 * time.Second,
		Hosts:       []string{"a", "b"},
	}
	if !reflect.DeepEqual(opts, want) {
		t.Errorf("got %+v\nwant %+v", opts, want)
	}
}

func TestIntegerDurationIsSeconds(t *testing.T) {
	opts := &testOptions{Config: writeFile(t, "[rtsp]\nidle_timeout = 5\n")}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatal(err)
	}
	if opts.IdleTimeout != 5*time.Second {
		t.Errorf("IdleTimeout = %v", opts.IdleTimeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CAMRELAY_VIDEO", "clip.mp4")
	t.Setenv("CAMRELAY_RATE", "12.5")
	t.Setenv("CAMRELAY_IDLE_TIMEOUT", "2m")
	t.Setenv("CAMRELAY_HOSTS", "x, y")

	opts := &testOptions{Config: writeFile(t, "[source]\nvideo = \"/dev/video0\"\nfps = 10\n")}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatal(err)
	}
	if opts.Video != "clip.mp4" || opts.FPS != 10 || opts.Rate != 12.5 {
		t.Errorf("opts = %+v", opts)
	}
	if opts.IdleTimeout != 2*time.Minute || !reflect.DeepEqual(opts.Hosts, []string{"x", "y"}) {
		t.Errorf("opts = %+v", opts)
	}
}

func TestChangedFlagsWin(t *testing.T) {
	t.Setenv("CAMRELAY_FPS", "60")

	opts := &testOptions{Config: writeFile(t, "[source]\nvideo = \"/dev/video0\"\nfps = 10\n")}
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().IntVar(&opts.FPS, "fps", 30, "")
	cmd.Flags().StringVar(&opts.Video, "video", "", "")
	if err := cmd.Flags().Parse([]string{"--fps", "15"}); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatal(err)
	}
	if opts.FPS != 15 {
		t.Errorf("FPS = %d, want the flag value", opts.FPS)
	}
	if opts.Video != "/dev/video0" {
		t.Errorf("Video = %q, want the file value", opts.Video)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "invalid toml", file: "[source\nvideo ="},
		{name: "wrong type", file: "[source]\nfps = true\n"},
		{name: "bad env int", env: map[string]string{"CAMRELAY_FPS": "fast"}},
		{name: "bad env duration", env: map[string]string{"CAMRELAY_IDLE_TIMEOUT": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			opts := &testOptions{}
			if tt.file != "" {
				opts.Config = writeFile(t, tt.file)
			}
			if err := LoadConfig(opts, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), FPS: 30}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatal(err)
	}
	if opts.FPS != 30 {
		t.Errorf("defaults changed: %+v", opts)
	}
}

func TestLoadConfigRequiresStructPointer(t *testing.T) {
	if err := LoadConfig(testOptions{}, nil); err == nil {
		t.Error("expected error for non-pointer")
	}
}

func TestFlagName(t *testing.T) {
	tests := map[string]string{
		"Video":      "video",
		"ImageWidth": "image-width",
		"FPS":        "fps",
		"HTTPPort":   "http-port",
	}
	typ := reflect.TypeFor[struct {
		Video      string
		ImageWidth int
		FPS        int
		HTTPPort   int
		Port       int `name:"rtsp-port"`
	}]()
	for i := range typ.NumField() {
		f := typ.Field(i)
		want, ok := tests[f.Name]
		if !ok {
			want = "rtsp-port"
		}
		if got := flagName(f); got != want {
			t.Errorf("flagName(%s) = %q, want %q", f.Name, got, want)
		}
	}
}

func TestLoadLogging(t *testing.T) {
	path := writeFile(t, `
[logging]
level = "warn"
format = "json"
capture = "debug"
streaming = "error"
`)
	cfg, err := LoadLogging(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
	want := map[string]string{"capture": "debug", "streaming": "error"}
	if !reflect.DeepEqual(cfg.Modules, want) {
		t.Errorf("modules = %v", cfg.Modules)
	}

	if _, err := LoadLogging(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
