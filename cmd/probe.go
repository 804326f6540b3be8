package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smazurov/camrelay/internal/source"
	"github.com/spf13/cobra"
)

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var (
		video   string
		timeout time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Show the geometry and rate of a video source",
		Long: `Resolves --video the way the relay does (device index, /dev/videoN, file, URL or testsrc) ` +
			`and prints what ffprobe reports for its first video stream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := source.ParseIdentifier(video)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			opener := &source.FFmpegOpener{ProbeTimeout: timeout}
			info, err := opener.Probe(ctx, id)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %dx%d @ %.2f fps\n", id, info.Codec, info.Width, info.Height, info.FPS)
			return err
		},
	}
	cmd.Flags().StringVar(&video, "video", "0", "Source: device index, /dev/videoN, file, URL or testsrc[:WxH]")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Probe timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
