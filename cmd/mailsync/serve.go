package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailsync/internal/kanban"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider/imapmail"
	"github.com/nhle/mailsync/internal/push"
	"github.com/nhle/mailsync/internal/relay"
	"github.com/nhle/mailsync/internal/server"
	watchsync "github.com/nhle/mailsync/internal/sync"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "Run the HTTP API, event relay and snooze scheduler",
	Action: serveAction,
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg := rt.cfg

	g, gctx := errgroup.WithContext(ctx)

	hub := relay.New(cfg.Relay.SessionBuffer, rt.log)
	dispatcher := relay.NewDispatcher(rt.store, hub, rt.log)
	watchers := imapmail.NewWatchers(gctx, dispatcher.NotifyNewMail, rt.log)
	svc := rt.service(gctx, watchers, hub)
	scheduler := kanban.NewScheduler(rt.overlay, hub, cfg.TickInterval(), rt.log)

	// Gmail watches need a Pub/Sub topic; IMAP watchers only need a login.
	kinds := []model.ProviderKind{model.ProviderIMAP}
	if cfg.Google.PubSubTopic != "" {
		kinds = append(kinds, model.ProviderGmail)
	}
	renewer := watchsync.New(rt.store, svc, kinds, cfg.WatchRenewInterval(), rt.log)

	var forwarder server.Forwarder
	if cfg.AMQP.Enabled {
		client, err := push.NewClient(cfg.AMQP.URL, rt.log)
		if err != nil {
			return err
		}
		defer client.Close()

		topology := push.TopologyFromConfig(cfg.AMQP)
		if err := topology.Setup(client); err != nil {
			return err
		}
		forwarder = push.NewPublisher(client, topology)
		consumer := push.NewConsumer(client, topology.Queue, push.NewHandler(dispatcher, rt.log))
		g.Go(func() error { return consumer.Run(gctx) })
	}

	httpServer := server.NewHTTPServer(server.Options{
		Mail:       svc,
		Relay:      hub,
		Dispatcher: dispatcher,
		Forwarder:  forwarder,
		Watches:    renewer,
		Heartbeat:  cfg.Heartbeat(),
		Logger:     rt.log,
	})

	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return renewer.Run(gctx) })
	g.Go(func() error {
		if err := httpServer.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		watchers.StopAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	rt.log.Info("mailsync started")
	err = g.Wait()
	rt.log.Info("mailsync stopped")
	return err
}
