package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rbright/relay/internal/bus"
	"github.com/rbright/relay/internal/capture"
	"github.com/rbright/relay/internal/clipboard"
	"github.com/rbright/relay/internal/config"
	"github.com/rbright/relay/internal/dispatch"
	"github.com/rbright/relay/internal/indicator"
	"github.com/rbright/relay/internal/ipc"
	"github.com/rbright/relay/internal/pipeline"
	"github.com/rbright/relay/internal/session"
	"github.com/rbright/relay/internal/weblink"
)

const (
	socketPingTimeout = 180 * time.Millisecond
	socketRetries     = 8
	shutdownTimeout   = 5 * time.Second
)

var errControlClosed = errors.New("control subscription closed")

// serve runs the daemon until ctx ends. A bus that cannot be reached at
// startup is fatal.
func (r Runner) serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	client, err := bus.Dial(ctx, bus.OptionsFromConfig(cfg.Bus), logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return err
	}
	listener, err := ipc.Acquire(ctx, socketPath, socketPingTimeout, socketRetries)
	if err != nil {
		return err
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	if cfg.Directive.PublishOnConnect && strings.TrimSpace(cfg.Directive.Text) != "" {
		if err := client.Publish(ctx, cfg.Topics.Relay, cfg.Directive.Text); err != nil {
			logger.Warn("publish directive failed", "topic", cfg.Topics.Relay, "error", err.Error())
		}
	}

	feedSource := r.FeedSource
	if feedSource == nil {
		feedSource = pipeline.NewFeedSource(cfg, logger)
	}
	captureSource := r.CaptureSource
	if captureSource == nil {
		captureSource = capture.NewScreenSource(cfg.Capture, logger)
	}
	ind := r.Indicator
	if ind == nil {
		ind = indicator.NewHyprNotify(cfg.Indicator, logger)
	}

	controller := session.NewController(logger, feedSource, client, ind, session.Options{
		StatusTopic:  cfg.Topics.Status,
		PollInterval: cfg.Flush.PollInterval(),
		Aggregator: session.AggregatorConfig{
			Topic:            cfg.Topics.Relay,
			SilenceThreshold: cfg.Flush.SilenceThreshold(),
			WordThreshold:    cfg.Flush.WordThreshold,
			Directive:        cfg.Directive.Text,
			DirectiveEvery:   cfg.Directive.Every,
		},
	})
	batcher := capture.NewBatcher(capture.Config{
		Topic:     cfg.Topics.Relay,
		KeyPrefix: cfg.Capture.KeyPrefix,
		IDPrefix:  cfg.Capture.IDPrefix,
		BatchSize: cfg.Capture.BatchSize,
		TTL:       cfg.Capture.TTL(),
	}, captureSource, client, client, logger)
	dispatcher := dispatch.New(dispatch.Config{
		Commands:       cfg.Commands,
		RelayTopic:     cfg.Topics.Relay,
		LinkTopic:      cfg.Topics.URL,
		CommandTimeout: cfg.Dispatch.CommandTimeout(),
	},
		controller,
		batcher,
		clipboard.NewReader(cfg.Clipboard),
		weblink.NewFetcher(r.HTTPClient, cfg.Link.MaxLines),
		client,
		logger,
	)

	topics := []string{cfg.Topics.Control}
	if cfg.Topics.URL != "" {
		topics = append(topics, cfg.Topics.URL)
	}
	sub, err := client.Subscribe(ctx, topics...)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- ipc.Serve(serveCtx, listener, dispatcher)
	}()

	logger.Info("relay serving",
		"bus", cfg.Bus.Addr,
		"control_topic", cfg.Topics.Control,
		"url_topic", cfg.Topics.URL,
		"relay_topic", cfg.Topics.Relay,
		"socket", socketPath,
	)

	runErr := dispatcher.Run(ctx, sub.Messages())
	if runErr == nil {
		runErr = errControlClosed
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := controller.Shutdown(shutdownCtx); err != nil {
		logger.Warn("session shutdown incomplete", "error", err.Error())
	}
	cancelServe()
	ipcErr := <-serverErr
	if waiter, ok := ind.(interface{ Wait() }); ok {
		waiter.Wait()
	}
	logger.Info("relay stopped")

	if !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return ipcErr
}
