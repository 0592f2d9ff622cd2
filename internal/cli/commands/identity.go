package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leapstack-labs/querydeck/internal/session"
)

// PasswordEnv is read when --password is not given.
const PasswordEnv = "QUERYDECK_PASSWORD"

// IdentityOptions holds the flags that select the database user.
type IdentityOptions struct {
	User     string
	Password string
}

func (o *IdentityOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.User, "user", "U", "", "Database user to act as")
	cmd.Flags().StringVar(&o.Password, "password", "", "Password (default: $"+PasswordEnv+", or prompt on a terminal)")
}

// resolve builds the identity for this invocation. Without a password flag
// or environment variable, it prompts when stdin is a terminal and uses an
// empty password otherwise.
func (o *IdentityOptions) resolve(cmd *cobra.Command) (session.Identity, error) {
	if o.User == "" {
		return session.Identity{}, errors.New("--user is required")
	}

	password := o.Password
	if !cmd.Flags().Changed("password") {
		if env, ok := os.LookupEnv(PasswordEnv); ok {
			password = env
		} else if stdin, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(stdin.Fd())) {
			p, err := promptPassword(cmd.ErrOrStderr(), stdin, o.User)
			if err != nil {
				return session.Identity{}, err
			}
			password = p
		}
	}

	return session.Identity{
		SessionID:   "cli-" + uuid.NewString(),
		Principal:   o.User,
		Credentials: password,
	}, nil
}

func promptPassword(w io.Writer, stdin *os.File, user string) (string, error) {
	_, _ = fmt.Fprintf(w, "Password for %s: ", user)
	b, err := term.ReadPassword(int(stdin.Fd()))
	_, _ = fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}
