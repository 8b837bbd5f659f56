package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/nhle/mailsync/internal/model"
)

func main() {
	cmd := &cli.Command{
		Name:  "mailsync",
		Usage: "Mailbox sync and notification service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				Value:   model.DefaultConfigPath(),
				Sources: cli.EnvVars("MAILSYNC_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before the configuration",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			serveCommand,
			connectIMAPCommand,
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
