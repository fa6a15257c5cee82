package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"clipdrop/internal/media"
	"clipdrop/internal/ui"
)

var (
	flagFormat string
	flagJSON   bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Download a single URL into the download directory",
	Args:  cobra.ExactArgs(1),
	RunE:  fetchRun,
}

func init() {
	fetchCmd.Flags().StringVarP(&flagFormat, "format", "f", "mp4", "Output format: mp4 | mp3")
	fetchCmd.Flags().BoolVarP(&flagJSON, "json", "j", false, "Print the result as JSON")
}

func fetchRun(cmd *cobra.Command, args []string) error {
	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = cfg.LocalURL()
	}

	svc, st, err := newService(publicURL)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := svc.Download(ctx, media.DownloadRequest{URL: args[0], Format: flagFormat})
	if err != nil {
		if !flagJSON {
			// Already rendered, keep cobra from printing it again.
			cmd.SilenceErrors = true
			fmt.Fprintln(os.Stderr, ui.Error(err))
		}
		return err
	}

	path := filepath.Join(st.Root(), res.Filename)

	if flagJSON {
		out := map[string]interface{}{
			"status":       "success",
			"title":        res.Title,
			"filename":     res.Filename,
			"download_url": res.DownloadURL,
			"path":         path,
			"size":         res.Size,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println(ui.Result(res, path))
	return nil
}
