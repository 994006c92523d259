package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		recs, err := svc.ListRecordings(cmd.Context())
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No recordings")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFILENAME\tDURATION\tSIZE\tMIC\tTAG")
		for _, rec := range recs {
			fmt.Fprintf(w, "%s\t%s\t%.2fs\t%s\t%s\t%s\n",
				rec.ID, rec.Filename, rec.ActualDuration, rec.SizeHuman, rec.MicType, rec.Tag)
		}
		return w.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recording library statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		stats, err := svc.Statistics(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Recordings:     %d\n", stats.TotalRecordings)
		fmt.Printf("Total size:     %s\n", stats.TotalSizeHuman)
		fmt.Printf("Total duration: %.1fs\n", stats.TotalDuration)
		fmt.Printf("Dual mic:       %d\n", stats.DualMic)
		if stats.Unsaved > 0 {
			fmt.Printf("Not stored:     %d\n", stats.Unsaved)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [recording-id]",
	Short: "Export recordings to the download directory",
	Long: `Write one recording, or every recording with --all, into the export
directory. Existing files are never overwritten.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return fmt.Errorf("specify a recording ID or --all")
		}

		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		if !all {
			if err := svc.Export(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			fmt.Printf("Exported to %s\n", cfg.Export.Directory)
			return nil
		}

		return svc.ExportAll(cmd.Context(), func(done, total int, filename string, err error) {
			if err != nil {
				fmt.Printf("[%d/%d] %s: %v\n", done, total, filename, err)
				return
			}
			fmt.Printf("[%d/%d] %s\n", done, total, filename)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [recording-id]",
	Short: "Delete a recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.DeleteRecording(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every recording",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to delete all recordings without --yes")
		}

		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.ClearRecordings(cmd.Context()); err != nil {
			return fmt.Errorf("clear failed: %w", err)
		}
		fmt.Println("All recordings deleted")
		return nil
	},
}

var playCmd = &cobra.Command{
	Use:   "play [recording-id]",
	Short: "Play a recording",
	Long:  `Play a stored recording with the first available player (aplay, ffplay, mpv or vlc).`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.Play(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}

func formatSize(size int) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	if size < unit*unit {
		return fmt.Sprintf("%.1f KB", float64(size)/unit)
	}
	return fmt.Sprintf("%.1f MB", float64(size)/(unit*unit))
}

func init() {
	exportCmd.Flags().Bool("all", false, "export every recording")
	clearCmd.Flags().Bool("yes", false, "confirm deletion of all recordings")
}
