package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/kanban"
	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider/gmail"
	"github.com/nhle/mailsync/internal/provider/imapmail"
	"github.com/nhle/mailsync/internal/store"
	"github.com/nhle/mailsync/internal/stub"
	"github.com/nhle/mailsync/internal/summary"
	"github.com/nhle/mailsync/internal/token"
)

// runtime holds what every command needs.
type runtime struct {
	cfg     *model.AppConfig
	store   *store.SQLiteStore
	cipher  *credential.Cipher
	overlay *kanban.Overlay
	log     *log.Entry
}

func loadConfig(cmd *cli.Command) (*model.AppConfig, error) {
	if path := cmd.String("env-file"); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}
	cfg, err := model.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	configureLogging(cfg.Log)
	return cfg, nil
}

func configureLogging(cfg model.LogConfig) {
	if strings.EqualFold(cfg.Format, "text") {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// open loads configuration, the store, the password cipher and the
// Kanban overlay.
func open(ctx context.Context, cmd *cli.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := log.WithField("service", "mailsync")

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	ring, err := credential.OpenKeyring(cfg.Keyring)
	if err != nil {
		st.Close()
		return nil, err
	}
	key, err := credential.MasterKey(ring)
	if err != nil {
		st.Close()
		return nil, err
	}
	cipher, err := credential.NewCipher(key)
	if err != nil {
		st.Close()
		return nil, err
	}

	overlay := kanban.NewOverlay(st, logger)
	if err := overlay.Load(ctx, st); err != nil {
		st.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, store: st, cipher: cipher, overlay: overlay, log: logger}, nil
}

func (rt *runtime) Close() {
	if err := rt.store.Close(); err != nil {
		rt.log.WithError(err).Warn("closing store")
	}
}

// service builds the mailbox facade. watchers and notifier may be nil.
func (rt *runtime) service(
	ctx context.Context,
	watchers *imapmail.Watchers,
	notifier kanban.Notifier,
) *mailsync.Service {
	var summarizer mailsync.Summarizer
	if rt.cfg.Summary.APIKey != "" {
		summarizer = summary.New(rt.cfg.Summary, rt.log)
	}

	return mailsync.New(ctx, mailsync.Config{
		OAuth:           token.GoogleConfig(rt.cfg.Google, gmail.Scopes),
		GmailEndpoint:   rt.cfg.Google.Endpoint,
		QuotaPerSecond:  rt.cfg.Google.QuotaPerSecond,
		PubSubTopic:     rt.cfg.Google.PubSubTopic,
		PublicBaseURL:   rt.cfg.Server.PublicBaseURL,
		ProviderTimeout: rt.cfg.ProviderTimeout(),
	}, mailsync.Deps{
		Vault:      rt.store,
		Cipher:     rt.cipher,
		Stub:       stub.NewStore(),
		Overlay:    rt.overlay,
		Watchers:   watchers,
		Summarizer: summarizer,
		Notifier:   notifier,
	}, rt.log)
}
