// rigrun-chat - terminal chat for a local Ollama server.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-chat/internal/cli"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/offline"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/render"
	"github.com/jeranaias/rigrun-chat/internal/server"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/transport"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const (
	versionCheckTimeout = 2 * time.Second
	shutdownTimeout     = 5 * time.Second
	redisKeyPrefix      = "rigrun-chat:"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	cmd, args, err := cli.Parse(argv)
	if err != nil {
		cli.DisplayError(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "Run 'rigrun-chat help' for usage.")
		return cli.GetExitCode(err)
	}

	configPath := args.ConfigPath
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	switch cmd {
	case cli.CmdHelp:
		cli.PrintUsage(os.Stdout, configPath)
		return cli.ExitSuccess
	case cli.CmdVersion:
		cli.PrintVersion(os.Stdout)
		return cli.ExitSuccess
	case cli.CmdConfig:
		err = runConfig(args, configPath)
	case cli.CmdDoctor:
		err = runDoctor(args, configPath)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
		err = runChat(ctx, cmd, args, configPath)
		stop()
	}

	// Request failures were already shown inline by the renderer.
	if err != nil && !errors.Is(err, session.ErrRequestFailed) {
		cli.DisplayError(os.Stderr, err)
	}
	return cli.GetExitCode(err)
}

// =============================================================================
// CONFIG
// =============================================================================

// loadConfig reads the config file and applies command-line overrides on top.
func loadConfig(args cli.Args, path string) (*config.Config, error) {
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, args)
	config.SetGlobal(cfg)
	return cfg, nil
}

func applyFlags(cfg *config.Config, args cli.Args) {
	if args.Model != "" {
		cfg.Ollama.Model = args.Model
	}
	if args.Offline {
		cfg.Offline = true
	}
	if args.LogLevel != "" {
		cfg.Logging.Level = args.LogLevel
	}
	if args.NoMarkdown {
		cfg.UI.Markdown = false
	}
}

func runConfig(args cli.Args, path string) error {
	switch args.Subcommand {
	case "path":
		fmt.Println(path)
		return nil

	case "init":
		if _, err := os.Stat(path); err == nil {
			return &cli.CommandError{Command: "config", Action: "init", Reason: "config file already exists at " + path}
		}
		if err := config.Save(config.Default(), path); err != nil {
			return &cli.CommandError{Command: "config", Action: "init", Reason: "write failed", Err: err}
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return nil

	default:
		cfg, err := loadConfig(args, path)
		if err != nil {
			return err
		}
		redacted := cfg.Clone()
		if redacted.Storage.RedisPassword != "" {
			redacted.Storage.RedisPassword = logging.Redact(redacted.Storage.RedisPassword)
		}
		fmt.Printf("# %s\n", path)
		return toml.NewEncoder(os.Stdout).Encode(redacted)
	}
}

// runDoctor runs the health checks. A config that fails to load is
// reported as a failed check rather than returned.
func runDoctor(args cli.Args, path string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	d := &cli.Doctor{ConfigPath: path}
	cfg, err := loadConfig(args, path)
	if err != nil {
		d.ConfigErr = err
	} else {
		d.Config = cfg
		d.Ollama = ollama.NewClientWithConfig(&ollama.ClientConfig{
			BaseURL: cfg.Ollama.URL,
			Timeout: cli.DefaultCheckTimeout,
		})
		d.OpenStorage = func(ctx context.Context) (storage.Backend, error) {
			return openStorage(ctx, cfg)
		}
		d.Dialer = &transport.WebSocketDialer{}
	}
	return cli.PrintDoctor(os.Stdout, d.Run(ctx))
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	return storage.Open(ctx, storage.Options{
		Backend:       cfg.Storage.Backend,
		Path:          cfg.Storage.Path,
		RedisAddr:     cfg.Storage.RedisAddr,
		RedisPassword: cfg.Storage.RedisPassword,
		RedisDB:       cfg.Storage.RedisDB,
		RedisPrefix:   redisKeyPrefix,
	})
}

// =============================================================================
// CHAT
// =============================================================================

func runChat(ctx context.Context, cmd cli.Command, args cli.Args, configPath string) error {
	cfg, err := loadConfig(args, configPath)
	if err != nil {
		return err
	}

	logger, closer, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closer.Close()

	if err := offline.Apply(cfg); err != nil {
		return err
	}

	kv, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	defer kv.Close()

	opts := render.DetectOptions(os.Stdout, cfg.UI)
	opts.Logger = logger
	term := render.NewTerminal(os.Stdout, opts)

	store := conversation.NewStore(kv, term, conversation.WithLogger(logger))
	if err := store.Load(ctx); err != nil {
		return err
	}

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:       cfg.Ollama.URL,
		StreamTimeout: cfg.Ollama.StreamTimeout.Duration,
	})
	serverVersion := fetchVersion(ctx, client, logger)

	sessOpts := []session.Option{
		session.WithModel(cfg.Ollama.Model),
		session.WithTemperature(cfg.Ollama.Temperature),
		session.WithMaxContext(cfg.Ollama.MaxContext),
		session.WithLogger(logger),
		session.WithNotifier(term),
	}

	var channel *transport.Channel
	if cfg.Transport.URL != "" {
		channel = transport.NewChannel(cfg.Transport.URL, &transport.WebSocketDialer{},
			transport.WithReconnect(cfg.Transport.ReconnectBase.Duration, cfg.Transport.MaxAttempts),
			transport.WithQueueSize(cfg.Transport.QueueSize),
			transport.WithLogger(logger),
		)
		hb := transport.NewHeartbeat(channel,
			transport.WithInterval(cfg.Transport.PingInterval.Duration, cfg.Transport.PongTimeout.Duration))
		watch := transport.NewOnlineWatch(channel)
		defer channel.Close()
		defer hb.Stop()
		defer watch.Stop()
		defer cli.ReportChannel(channel, term)()
		sessOpts = append(sessOpts, session.WithPublisher(channel))
	}

	ctrl := session.New(store, client, sessOpts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if channel != nil {
		g.Go(func() error {
			channel.Connect(gctx)
			return nil
		})
	}

	if cfg.Metrics.Enabled {
		srvOpts := []server.Option{
			server.WithModelServer(client),
			server.WithStatus(ctrl),
			server.WithLogger(logger),
		}
		if channel != nil {
			srvOpts = append(srvOpts, server.WithChannel(channel))
		}
		srv := server.New(cfg.Metrics.Addr, srvOpts...)

		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		err := config.Watch(gctx, configPath, func(next *config.Config) {
			applyFlags(next, args)
			reload(ctrl, next, logger)
		}, func(err error) {
			logger.Warn().Err(err).Msg("config reload failed")
		})
		if err != nil && gctx.Err() == nil {
			logger.Warn().Err(err).Msg("config watcher stopped")
		}
		return nil
	})

	var runErr error
	g.Go(func() error {
		defer cancel()
		if cmd == cli.CmdAsk {
			runErr = cli.Ask(gctx, ctrl, os.Stdout, args.Query, args.Quiet)
			return nil
		}

		in := cli.NewChatCLI(cli.HistoryPath())
		defer func() {
			if err := in.Close(); err != nil {
				logger.Debug().Err(err).Msg("history not saved")
			}
		}()

		replOpts := []cli.REPLOption{
			cli.WithQuiet(args.Quiet),
			cli.WithServerVersion(serverVersion),
			cli.WithLogger(logger),
		}
		if channel != nil {
			replOpts = append(replOpts, cli.WithChannelStatus(channel))
		}
		runErr = cli.NewREPL(ctrl, store, in, os.Stdout, replOpts...).Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("background service failed")
		if runErr == nil {
			runErr = err
		}
	}

	if err := store.Save(context.Background()); err != nil {
		logger.Error().Err(err).Msg("final save failed")
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// fetchVersion asks the model server for its version. Failure is logged
// only: the first send reports an unreachable server to the user.
func fetchVersion(ctx context.Context, client *ollama.Client, logger zerolog.Logger) string {
	vctx, cancel := context.WithTimeout(ctx, versionCheckTimeout)
	defer cancel()

	v, err := client.Version(vctx)
	if err != nil {
		logger.Warn().Err(err).Str("url", client.BaseURL()).Msg("ollama version check failed")
		return ""
	}
	logger.Info().Str("version", v).Str("url", client.BaseURL()).Msg("ollama reachable")
	return v
}

// reload applies the hot-reloadable settings of next.
func reload(ctrl *session.Controller, next *config.Config, logger zerolog.Logger) {
	if next.Ollama.Model != "" && next.Ollama.Model != ctrl.Model() {
		ctrl.SetModel(next.Ollama.Model)
	}
	if next.Ollama.Temperature != ctrl.Temperature() {
		ctrl.SetTemperature(next.Ollama.Temperature)
	}
	ctrl.SetMaxContext(next.Ollama.MaxContext)
	config.SetGlobal(next)

	logger.Info().
		Str("model", next.Ollama.Model).
		Float64("temperature", next.Ollama.Temperature).
		Msg("config reloaded")
}
