package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jrsteele09/go-image-resizer/history"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/jrsteele09/go-image-resizer/session"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List and manage your resize history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your resizes, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, userID, err := historyApp(cmd.Context())
		if err != nil {
			return err
		}
		items, err := a.history.List(cmd.Context(), userID)
		if err != nil {
			return err
		}
		printHistory(items)
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one history item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, userID, err := historyApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.history.Delete(cmd.Context(), userID, args[0]); err != nil {
			return err
		}
		fmt.Println(text.FgYellow.Sprint("Deleted ") + args[0])
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete your whole history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, userID, err := historyApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.history.Clear(cmd.Context(), userID); err != nil {
			return err
		}
		fmt.Println(text.FgYellow.Sprint("History cleared"))
		return nil
	},
}

func init() {
	historyCmd.AddCommand(historyListCmd, historyDeleteCmd, historyClearCmd)
}

// historyApp returns the app and the signed-in user whose history is shown.
func historyApp(ctx context.Context) (*app, string, error) {
	a, err := newApp(ctx, nil)
	if err != nil {
		return nil, "", err
	}
	if a.manager.Validate(ctx) != session.Active {
		return nil, "", errors.ErrNotSignedIn
	}
	rec := a.manager.Current(ctx)
	if rec == nil {
		return nil, "", errors.ErrNotSignedIn
	}
	return a, rec.UserID, nil
}

func printHistory(items []history.Item) {
	if len(items) == 0 {
		fmt.Println(text.FgYellow.Sprint("No resizes yet"))
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "When", "Original", "Size", "Resized"})
	for _, item := range items {
		t.AppendRow(table.Row{
			item.ID,
			item.Timestamp.Local().Format(time.DateTime),
			fmt.Sprintf("%dx%d", item.OriginalWidth, item.OriginalHeight),
			fmt.Sprintf("%dx%d", item.Width, item.Height),
			item.ResizedURL,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(items)})
	t.Render()
}
