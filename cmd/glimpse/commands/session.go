package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/glimpse/internal/credentials"
)

// terminalNavigator prints a login notice instead of showing a login screen.
type terminalNavigator struct {
	w    io.Writer
	once sync.Once
}

func newTerminalNavigator(w io.Writer) *terminalNavigator {
	return &terminalNavigator{w: w}
}

// ShowingLogin is always false: a CLI has no login screen.
func (n *terminalNavigator) ShowingLogin() bool { return false }

func (n *terminalNavigator) RedirectToLogin(context.Context) {
	n.once.Do(func() {
		_, _ = fmt.Fprintln(n.w, "session expired, run `glimpse login` to sign in again")
	})
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in and store the session credentials",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "username",
				Aliases:  []string{"u"},
				Usage:    "account username",
				Required: true,
			},
		},
		Action: loginAction,
	}
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	application, cleanup, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	password, err := readPassword(os.Stdin, os.Stderr)
	if err != nil {
		return err
	}

	if err := application.Login(ctx, cmd.String("username"), password); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(cmd.Root().Writer, "logged in")
	return nil
}

// readPassword prompts on a terminal, otherwise reads the first line of in.
func readPassword(in *os.File, prompt io.Writer) (string, error) {
	if term.IsTerminal(int(in.Fd())) {
		_, _ = fmt.Fprint(prompt, "Password: ")
		password, err := term.ReadPassword(int(in.Fd()))
		_, _ = fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(password), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "remove the stored session credentials",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, cleanup, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := application.Session().Logout(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.Root().Writer, "logged out")
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show whether a session is stored",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, cleanup, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			writeStatus(cmd.Root().Writer, application.Credentials(), time.Now())
			return nil
		},
	}
}

// writeStatus describes pair without revealing the tokens.
func writeStatus(w io.Writer, pair credentials.Pair, now time.Time) {
	if pair.Empty() {
		_, _ = fmt.Fprintln(w, "not logged in")
		return
	}

	_, _ = fmt.Fprintln(w, "logged in")
	if expiry, ok := pair.AccessExpiry(); ok {
		if expiry.After(now) {
			_, _ = fmt.Fprintf(w, "access token expires %s (in %s)\n", expiry.Format(time.RFC3339), expiry.Sub(now).Round(time.Second))
		} else {
			_, _ = fmt.Fprintf(w, "access token expired %s, refreshed on next request\n", expiry.Format(time.RFC3339))
		}
	}
	if pair.RefreshToken == "" {
		_, _ = fmt.Fprintln(w, "no refresh token, the session ends when the access token expires")
	}
}
