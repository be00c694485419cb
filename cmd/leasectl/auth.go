package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	loginPassword    string
	registerEmail    string
	registerPassword string
)

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "password (prompted if omitted)")
	registerCmd.Flags().StringVarP(&registerEmail, "email", "e", "", "email address")
	registerCmd.Flags().StringVarP(&registerPassword, "password", "p", "", "password (prompted if omitted)")
	_ = registerCmd.MarkFlagRequired("email")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}

// promptSecret reads a line from stdin when a password flag was omitted.
func promptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", label, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and store the session locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" {
			var err error
			if password, err = promptSecret("password"); err != nil {
				return err
			}
		}

		console, err := newConsole()
		if err != nil {
			return err
		}
		sess, err := console.Login(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}
		fmt.Printf("Logged in as %s (%s)\n", sess.Username, sess.Role)
		if !sess.Confirmed {
			fmt.Println("Account not confirmed yet, run 'leasectl confirm'.")
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := registerPassword
		if password == "" {
			var err error
			if password, err = promptSecret("password"); err != nil {
				return err
			}
		}

		console, err := newConsole()
		if err != nil {
			return err
		}
		sess, err := console.Register(cmd.Context(), args[0], registerEmail, password)
		if err != nil {
			return err
		}
		fmt.Printf("Registered %s. Run 'leasectl confirm' to activate the account.\n", sess.Username)
		return nil
	},
}

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Confirm the registered account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		sess, err := console.Confirm(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Account %s confirmed.\n", sess.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and discard the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := newConsole()
		if err != nil {
			return err
		}
		console.Logout()
		fmt.Println("Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		sess := console.Session()
		fmt.Printf("%s <%s> role=%s confirmed=%v id=%d\n",
			sess.Username, sess.Email, sess.Role, sess.Confirmed, sess.ID)
		return nil
	},
}
