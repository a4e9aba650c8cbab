package cmd

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmcleod/emporia/api"
)

var (
	loginEmail    string
	loginPassword string

	registerEmail    string
	registerUsername string
	registerRole     string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and persist the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := bufio.NewReader(cmd.InOrStdin())
		email := loginEmail
		if email == "" {
			var err error
			if email, err = prompt(cmd.OutOrStdout(), in, "Email: "); err != nil {
				return err
			}
		}
		password := loginPassword
		if password == "" {
			var err error
			if password, err = readSecret(cmd.OutOrStdout(), in, "Password: "); err != nil {
				return err
			}
		}
		s, err := app.sessions.Login(cmd.Context(), api.Credentials{Email: email, Password: password})
		if err != nil {
			return describe(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", s.Identity.DisplayName())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the persisted session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.sessions.Logout(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the identity of the persisted session",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, ok := app.sessions.CurrentIdentity()
		if !ok {
			return errors.New("not logged in")
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "User:     %s\n", id.DisplayName())
		fmt.Fprintf(out, "User ID:  %s\n", id.UserID)
		if id.Email != "" {
			fmt.Fprintf(out, "Email:    %s\n", id.Email)
		}
		if id.Role != "" {
			fmt.Fprintf(out, "Role:     %s\n", id.Role)
		}
		if !id.ExpiresAt.IsZero() {
			fmt.Fprintf(out, "Expires:  %s\n", id.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh credential for a new access credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.sessions.Refresh(cmd.Context()); err != nil {
			return describe(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Session refreshed")
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		in := bufio.NewReader(cmd.InOrStdin())
		reg := api.Registration{Email: registerEmail, Username: registerUsername, Role: registerRole}
		var err error
		if reg.Email == "" {
			if reg.Email, err = prompt(out, in, "Email: "); err != nil {
				return err
			}
		}
		if reg.Username == "" {
			if reg.Username, err = prompt(out, in, "Username: "); err != nil {
				return err
			}
		}
		if reg.Password, err = readSecret(out, in, "Password: "); err != nil {
			return err
		}
		if reg.Password2, err = readSecret(out, in, "Confirm password: "); err != nil {
			return err
		}
		acct, err := app.sessions.Register(cmd.Context(), reg)
		if err != nil {
			return describe(err)
		}
		fmt.Fprintf(out, "Registered %s (%s). Run `emporia login` to sign in.\n", acct.Username, acct.Email)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, refreshCmd, registerCmd)

	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (prompted when empty)")

	registerCmd.Flags().StringVarP(&registerEmail, "email", "e", "", "Account email")
	registerCmd.Flags().StringVarP(&registerUsername, "username", "u", "", "Username")
	registerCmd.Flags().StringVar(&registerRole, "role", api.RoleCustomer, "Account role: CUSTOMER or SELLER")
}

// prompt writes label and reads one trimmed line.
func prompt(out io.Writer, in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo when stdin is a terminal and falls back to a
// plain line read otherwise.
func readSecret(out io.Writer, in *bufio.Reader, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(out, in, label)
	}
	fmt.Fprint(out, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

// describe expands field-level validation errors for the terminal.
func describe(err error) error {
	var verr *api.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) == 0 {
		return err
	}
	var b strings.Builder
	b.WriteString(cmp.Or(verr.Message, "invalid input"))
	for _, field := range slices.Sorted(maps.Keys(verr.Fields)) {
		for _, msg := range verr.Fields[field] {
			fmt.Fprintf(&b, "\n  %s: %s", field, msg)
		}
	}
	return errors.New(b.String())
}
