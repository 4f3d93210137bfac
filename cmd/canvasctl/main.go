// Command canvasctl is a headless client for live event canvases.
//
// It joins a painting over the realtime endpoint the same way a browser tab
// does, so it can watch who is drawing, draw strokes of its own, and render
// the current canvas to a PNG.
//
//	canvasctl watch  --painting <id>
//	canvasctl draw   --painting <id> --shape circle
//	canvasctl preview --painting <id> -o canvas.png
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"event-canvas-backend/internal/models"
	"event-canvas-backend/internal/realtime"
	"event-canvas-backend/internal/session"
	"event-canvas-backend/internal/storeclient"

	"github.com/spf13/cobra"
)

var version = "dev"

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	server    string
	painting  string
	userName  string
	color     string
	configDir string
	timeout   time.Duration
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:          "canvasctl",
		Short:        "Headless client for live event canvases",
		Long:         "canvasctl joins a painting's realtime channel to watch, draw or render it.",
		Version:      version,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.server, "server", "s", envOr("CANVAS_SERVER", "http://localhost:3000"), "Base URL of the canvas server")
	flags.StringVarP(&opts.painting, "painting", "p", "", "Painting id to join")
	flags.StringVarP(&opts.userName, "name", "n", "", "Display name shown to other participants")
	flags.StringVar(&opts.color, "color", "", "Stroke colour (defaults to a colour derived from the device id)")
	flags.StringVar(&opts.configDir, "config-dir", "", "Directory holding the device id (defaults to the user config dir)")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Timeout for joining and store requests")

	rootCmd.AddCommand(
		buildWatchCmd(opts),
		buildDrawCmd(opts),
		buildPreviewCmd(opts),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// websocketURL maps the HTTP base URL of the server to its realtime endpoint.
func websocketURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(server))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", server)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// httpBase maps a ws:// or wss:// server flag back to an HTTP base URL.
func httpBase(server string) string {
	server = strings.TrimRight(strings.TrimSpace(server), "/")
	switch {
	case strings.HasPrefix(server, "ws://"):
		return "http://" + strings.TrimPrefix(server, "ws://")
	case strings.HasPrefix(server, "wss://"):
		return "https://" + strings.TrimPrefix(server, "wss://")
	}
	return server
}

func (o *globalOptions) requirePainting() error {
	if strings.TrimSpace(o.painting) == "" {
		return fmt.Errorf("--painting is required")
	}
	return nil
}

func (o *globalOptions) store() *storeclient.Client {
	return storeclient.New(httpBase(o.server), o.timeout)
}

// liveSession is a joined canvas session and the connection behind it.
type liveSession struct {
	*session.Controller
	client *realtime.Client
}

func (s *liveSession) Close() {
	_ = s.Controller.Close()
	_ = s.client.Close()
}

// joinSession dials the server, joins the painting and waits until the
// session is live.
func (o *globalOptions) joinSession(ctx context.Context, logger *slog.Logger) (*liveSession, error) {
	if err := o.requirePainting(); err != nil {
		return nil, err
	}
	deviceID, err := loadDeviceID(o.configDir)
	if err != nil {
		return nil, err
	}
	wsURL, err := websocketURL(o.server)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	client, err := realtime.Dial(dialCtx, wsURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", wsURL, err)
	}

	ch := client.Channel(models.PaintingTopic(o.painting), deviceID)
	ctrl, err := session.NewController(session.Config{
		CanvasID: o.painting,
		UserID:   deviceID,
		UserName: o.userName,
		Color:    o.color,
	}, ch, o.store(), logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s := &liveSession{Controller: ctrl, client: client}
	if err := ctrl.Join(ctx); err != nil {
		s.Close()
		return nil, err
	}

	for ctrl.State() != session.StateLive {
		select {
		case <-ctrl.Changed():
		case <-dialCtx.Done():
			s.Close()
			return nil, fmt.Errorf("join painting %s: %w", o.painting, dialCtx.Err())
		}
	}
	logger.Info("joined painting", "painting", o.painting, "user", deviceID)
	return s, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
