package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/jrsteele09/go-image-resizer/resizing"
	"github.com/jrsteele09/go-image-resizer/session"
	"github.com/jrsteele09/go-image-resizer/surface"
	"github.com/spf13/cobra"
)

var (
	originalWidth  int
	originalHeight int
	originalBytes  int64
	estimateOnly   bool
)

var resizeCmd = &cobra.Command{
	Use:   "resize <image-url> <size>",
	Short: "Resize an image on the backend",
	Long: `Resize an image to the given size and record the result in your history.

The size is "WxH" or "resize to WxH". With the original size given the command
also prints the expected file size.

Examples:
  resizer resize https://example.com/cat.jpg 800x600
  resizer resize https://example.com/cat.jpg "resize to 320x240" --width 1600 --height 1200 --bytes 524288`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		r := surface.NewResizer(a.manager, a.store, a.api, a.history, resizing.LimitsFrom(a.cfg), a.cfg.GetAPIBaseURL(),
			surface.WithLogger(a.logger))

		req := surface.ResizeRequest{
			ImageURL:       args[0],
			OriginalWidth:  originalWidth,
			OriginalHeight: originalHeight,
			OriginalBytes:  originalBytes,
			Command:        args[1],
		}
		est, err := r.Estimate(req)
		if err != nil {
			return err
		}
		printEstimate(est)
		if estimateOnly {
			return nil
		}

		item, err := r.Resize(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", text.FgGreen.Sprint("Resized:"), item.ResizedURL)
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a local image to the backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		if a.manager.Validate(cmd.Context()) != session.Active {
			return errors.ErrNotSignedIn
		}
		rec := a.manager.Current(cmd.Context())
		if rec == nil {
			return errors.ErrNotSignedIn
		}

		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "opening %s", args[0])
		}
		defer f.Close()

		resp, err := a.api.Upload(cmd.Context(), rec.SessionToken, filepath.Base(args[0]), f)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", text.FgGreen.Sprint("Uploaded:"), resp.URL)
		return nil
	},
}

func init() {
	resizeCmd.Flags().IntVar(&originalWidth, "width", 0, "Original width in pixels")
	resizeCmd.Flags().IntVar(&originalHeight, "height", 0, "Original height in pixels")
	resizeCmd.Flags().Int64Var(&originalBytes, "bytes", 0, "Original file size in bytes")
	resizeCmd.Flags().BoolVar(&estimateOnly, "estimate", false, "Only print the size estimate")
}

func printEstimate(est surface.Estimate) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendRow(table.Row{text.FgHiCyan.Sprint("Target"), est.Target.String()})
	if est.EstimatedBytes > 0 {
		t.AppendRows([]table.Row{
			{text.FgHiCyan.Sprint("Original"), resizing.FormatBytes(est.OriginalBytes)},
			{text.FgHiCyan.Sprint("Estimated"), resizing.FormatBytes(est.EstimatedBytes)},
			{text.FgHiCyan.Sprint("Change"), est.Reduction},
		})
	}
	t.Render()
}
