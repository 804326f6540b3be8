package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/smazurov/camrelay/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List video capture devices",
		Long:  `Lists the V4L2 capture nodes. The index column is the value to pass as --video.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			found, err := v4l2.FindDevices()
			if err != nil {
				return fmt.Errorf("enumerate devices: %w", err)
			}
			return writeDevices(cmd.OutOrStdout(), found, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func writeDevices(w io.Writer, found []v4l2.DeviceInfo, asJSON bool) error {
	if asJSON {
		type device struct {
			Index    int    `json:"index"`
			Path     string `json:"path"`
			Name     string `json:"name"`
			Driver   string `json:"driver"`
			DeviceID string `json:"device_id"`
		}
		out := make([]device, 0, len(found))
		for _, d := range found {
			out = append(out, device{d.Index, d.DevicePath, d.DeviceName, d.Driver, d.DeviceID})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(found) == 0 {
		_, err := fmt.Fprintln(w, "No capture devices found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tPATH\tNAME\tDRIVER\tID")
	for _, d := range found {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", d.Index, d.DevicePath, d.DeviceName, d.Driver, d.DeviceID)
	}
	return tw.Flush()
}
