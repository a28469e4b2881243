package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jrsteele09/go-image-resizer/backend"
	"github.com/jrsteele09/go-image-resizer/credentials"
	"github.com/jrsteele09/go-image-resizer/internal/config"
	"github.com/jrsteele09/go-image-resizer/session"
	"github.com/spf13/cobra"
)

var (
	signUpEmail    string
	signUpPassword string
	signUpName     string
)

var signUpCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create a password account on the backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.New()
		api := backend.NewClient(cfg.GetAPIBaseURL(), cfg.GetRequestTimeout(), backend.WithLogger(loggerFor("backend")))
		resp, err := api.SignUp(cmd.Context(), backend.SignUpRequest{
			Email:       signUpEmail,
			Password:    signUpPassword,
			DisplayName: signUpName,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s %s (%s)\n", text.FgGreen.Sprint("Account created:"), resp.User.DisplayName, resp.User.Email)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with the identity provider",
	Long: `Open the identity provider's consent page and sign in. A running "resizer run"
process picks the new session up from the session file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		rec, err := a.manager.SignIn(cmd.Context())
		if err != nil {
			return err
		}
		printSignedIn(rec)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget every cached credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		a.manager.Logout(cmd.Context())
		fmt.Println(text.FgYellow.Sprint("Signed out"))
		return nil
	},
}

var switchAccountCmd = &cobra.Command{
	Use:   "switch-account",
	Short: "Sign out and sign in with a different account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		rec, err := a.manager.SwitchAccount(cmd.Context())
		if err != nil {
			return err
		}
		printSignedIn(rec)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Validate and show the current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		state := a.manager.Validate(cmd.Context())
		printStatus(state, a.manager.Current(cmd.Context()), time.Now())
		return nil
	},
}

func init() {
	signUpCmd.Flags().StringVar(&signUpEmail, "email", "", "Account email")
	signUpCmd.Flags().StringVar(&signUpPassword, "password", "", "Account password, at least 6 characters")
	signUpCmd.Flags().StringVar(&signUpName, "name", "", "Display name")
	_ = signUpCmd.MarkFlagRequired("email")
	_ = signUpCmd.MarkFlagRequired("password")
	_ = signUpCmd.MarkFlagRequired("name")
}

func printSignedIn(rec *credentials.Record) {
	fmt.Printf("%s %s (%s)\n", text.FgGreen.Sprint("Signed in as"), rec.DisplayName, rec.Email)
}

func printStatus(state session.State, rec *credentials.Record, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendRow(table.Row{text.FgHiCyan.Sprint("State"), stateColour(state).Sprint(state)})
	if rec != nil && state == session.Active {
		t.AppendRows([]table.Row{
			{text.FgHiCyan.Sprint("User"), rec.UserID},
			{text.FgHiCyan.Sprint("Name"), rec.DisplayName},
			{text.FgHiCyan.Sprint("Email"), rec.Email},
			{text.FgHiCyan.Sprint("Expires"), fmt.Sprintf("%s (in %s)", rec.ExpiresAt.Local().Format(time.RFC1123), rec.Remaining(now).Round(time.Minute))},
		})
	}
	t.Render()
}

func stateColour(state session.State) text.Color {
	if state == session.Active {
		return text.FgGreen
	}
	return text.FgYellow
}
