package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/drivelane/reyrey-auth/internal/app"
	"github.com/drivelane/reyrey-auth/internal/browserflow"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "force a fresh browser login and store the resulting token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "name",
				Usage: "token name",
				Value: app.DefaultConfigTokenName,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}

			creds, err := promptCredentials()
			if err != nil {
				return err
			}

			tokenName := cmd.String("name")
			token, err := cfg.NewFlow().Login(ctx, creds, tokenName)
			if err != nil {
				return err
			}

			manager, err := cfg.NewManager()
			if err != nil {
				return err
			}
			if err := manager.SaveToken(ctx, token); err != nil {
				return err
			}

			fmt.Fprintf(cmd.Writer, "Logged in, token %s saved\n", token.Name)
			return nil
		},
	}
}

// promptCredentials reads credentials from the environment, falling back to
// an interactive prompt when attached to a terminal.
func promptCredentials() (browserflow.Credentials, error) {
	creds, err := browserflow.CredentialsFromEnv()
	if err == nil {
		return creds, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return browserflow.Credentials{}, err
	}

	fmt.Fprint(os.Stderr, "Username: ")
	username, readErr := bufio.NewReader(os.Stdin).ReadString('\n')
	if readErr != nil {
		return browserflow.Credentials{}, fmt.Errorf("reading username: %w", readErr)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	password, readErr := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if readErr != nil {
		return browserflow.Credentials{}, fmt.Errorf("reading password: %w", readErr)
	}

	creds = browserflow.Credentials{
		Username: strings.TrimSpace(username),
		Password: string(password),
	}
	if creds.Username == "" || creds.Password == "" {
		return browserflow.Credentials{}, errors.New("username and password are required")
	}
	return creds, nil
}
