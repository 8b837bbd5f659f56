package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/provider"
	"github.com/nhle/mailsync/internal/provider/imapmail"
)

var connectIMAPCommand = &cli.Command{
	Name:  "connect-imap",
	Usage: "Validate and store IMAP/SMTP credentials for a user",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "user", Usage: "user ID (a new one is generated when empty)"},
		&cli.StringFlag{Name: "host", Usage: "IMAP host", Required: true},
		&cli.IntFlag{Name: "port", Usage: "IMAP port (defaults to 993)"},
		&cli.StringFlag{Name: "smtp-host", Usage: "SMTP host (defaults to the IMAP host)"},
		&cli.IntFlag{Name: "smtp-port", Usage: "SMTP port (defaults to 587)"},
		&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "login name", Required: true},
		&cli.StringFlag{Name: "address", Usage: "mailbox address (defaults to the username)"},
		&cli.StringFlag{Name: "security", Usage: "tls, starttls or none (derived from the port when empty)"},
	},
	Action: connectIMAPAction,
}

func connectIMAPAction(ctx context.Context, cmd *cli.Command) error {
	password, err := promptPassword("IMAP password: ")
	if err != nil {
		return err
	}

	settings := mailsync.IMAPSettings{
		Host:     cmd.String("host"),
		Port:     int(cmd.Int("port")),
		SMTPHost: cmd.String("smtp-host"),
		SMTPPort: int(cmd.Int("smtp-port")),
		Username: cmd.String("username"),
		Password: password,
		Address:  cmd.String("address"),
		Security: imapmail.Security(strings.ToLower(cmd.String("security"))),
	}
	if err := validator.New().Struct(settings); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	rt, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	cred, err := rt.service(ctx, nil, nil).ConnectIMAP(ctx, cmd.String("user"), settings)
	if err != nil {
		if provider.IsCredentialError(err) || provider.IsTransientError(err) {
			return errors.New(provider.UserMessage(err))
		}
		return err
	}

	fmt.Printf("✓ Connected %s\n", cred.Email)
	fmt.Printf("  User ID: %s\n", cred.UserID)
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimSpace(string(raw))
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}
