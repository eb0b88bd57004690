package telegraph

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/zulandar/muster/internal/config"
	"go.uber.org/zap"
)

// Daemon is the main bot process. It connects to a chat platform via an
// Adapter, pumps inbound messages through the Router on a per-user worker
// pool, and posts scheduled digests to the announcement channel.
type Daemon struct {
	cfg     *config.Config
	core    Core
	adapter Adapter
	logger  *zap.Logger
	out     io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Config  *config.Config
	Core    Core
	Adapter Adapter
	Logger  *zap.Logger
	Out     io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("telegraph: config is required")
	}
	if opts.Core == nil {
		return nil, fmt.Errorf("telegraph: core is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{
		cfg:     opts.Config,
		core:    opts.Core,
		adapter: opts.Adapter,
		logger:  logger,
		out:     out,
	}, nil
}

// Run connects the adapter, starts the worker pool and the digest
// scheduler, and blocks until the context is cancelled or the adapter
// closes its inbound channel. On shutdown it drains queued messages and
// closes the adapter.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Muster connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	router, err := NewRouter(RouterOpts{
		Core:      d.core,
		Adapter:   d.adapter,
		Prefix:    d.cfg.CommandPrefix,
		BotUserID: botUserID,
		Logger:    d.logger.Named("router"),
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: build router: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}

	if d.cfg.Digest.Enabled {
		digest, err := NewDigest(DigestOpts{
			Lister:    d.core,
			Adapter:   d.adapter,
			Cron:      d.cfg.Digest.Cron,
			ChannelID: d.cfg.Channel,
			Logger:    d.logger.Named("digest"),
		})
		if err != nil {
			d.adapter.Close()
			return fmt.Errorf("telegraph: build digest: %w", err)
		}
		go digest.Run(ctx)
	}

	pool := newWorkerPool(d.cfg.Workers, router.Handle)
	pool.start(ctx)

	d.announce(ctx, "Muster online")
	fmt.Fprintf(d.out, "Muster online\n")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Muster shutting down...\n")
			pool.stop()
			d.announce(context.Background(), "Muster shutting down")
			if err := d.adapter.Close(); err != nil {
				d.logger.Warn("close adapter", zap.Error(err))
			}
			fmt.Fprintf(d.out, "Muster stopped\n")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Muster inbound channel closed\n")
				pool.stop()
				return nil
			}
			pool.submit(ctx, msg)
		}
	}
}

// announce posts a status line to the announcement channel (best-effort).
func (d *Daemon) announce(ctx context.Context, text string) {
	if err := d.adapter.Send(ctx, OutboundMessage{
		ChannelID: d.cfg.Channel,
		Text:      text,
	}); err != nil {
		d.logger.Warn("send announcement", zap.String("text", text), zap.Error(err))
	}
}
