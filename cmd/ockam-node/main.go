// Copyright (C) 2025 sage-x-project
//
// SPDX-License-Identifier: LGPL-3.0-or-later

// Command ockam-node runs a standalone Ockam node: it opens a vault and
// creates a node identity in it, binds whatever transports the config names, listens
// for secure channel handshakes, and optionally starts portals, a
// forwarder registration, and the session supervisor.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/build-trust/ockam-go/channel"
	"github.com/build-trust/ockam-go/config"
	"github.com/build-trust/ockam-go/forwarder"
	"github.com/build-trust/ockam-go/identity"
	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/internal/metrics"
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/portal"
	"github.com/build-trust/ockam-go/session"
	"github.com/build-trust/ockam-go/transport/tcp"
	"github.com/build-trust/ockam-go/vault"
	"github.com/build-trust/ockam-go/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configDir string
	var environment string

	root := &cobra.Command{
		Use:   "ockam-node",
		Short: "Run an Ockam node: transports, secure channels, portals, and forwarding",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir, Environment: environment})
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	root.Flags().StringVar(&configDir, "config-dir", "config", "directory containing <environment>.yaml")
	root.Flags().StringVar(&environment, "environment", "", "overrides automatic environment detection")

	return root
}

func run(cfg *config.Config) error {
	log := logger.NewDefaultLogger()
	log.SetLevel(parseLevel(cfg.Logging.Level))

	n := node.NewNode(log)

	store := vault.NewMemoryStorage()
	if cfg.Vault.Type == "file" && cfg.Vault.Directory != "" {
		fs, err := vault.NewFileStorage(cfg.Vault.Directory, []byte(os.Getenv("OCKAM_VAULT_PASSPHRASE")))
		if err != nil {
			return fmt.Errorf("open vault directory: %w", err)
		}
		return runWithStorage(n, log, cfg, fs)
	}
	return runWithStorage(n, log, cfg, store)
}

func runWithStorage(n *node.Node, log logger.Logger, cfg *config.Config, store vault.KeyValueStorage) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v := vault.New(store)
	id, err := identity.Create(ctx, v)
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}

	localStatic, err := v.GenerateSecret(ctx, vault.SecretAttributes{Type: vault.SecretTypeX25519})
	if err != nil {
		return fmt.Errorf("generate static key: %w", err)
	}

	for _, tcfg := range cfg.Transports {
		switch tcfg.Kind {
		case "tcp":
			if tcfg.BindAddr == "" {
				continue
			}
			if _, err := tcp.Listen(n, tcfg.BindAddr, log); err != nil {
				return fmt.Errorf("listen tcp %s: %w", tcfg.BindAddr, err)
			}
			log.Info("listening", logger.String("transport", "tcp"), logger.String("addr", tcfg.BindAddr))
		default:
			log.Warn("unsupported transport kind, skipping", logger.String("kind", tcfg.Kind))
		}
	}

	listener := &channel.ChannelListener{
		V:           v,
		LocalID:     id,
		LocalStatic: localStatic,
		Options: channel.Options{
			Policy:           identity.AllowAnyIdentity(),
			HandshakeTimeout: cfg.Channel.HandshakeTimeout,
		},
		Log: log,
	}
	if err := channel.Listen(n, listener); err != nil {
		return fmt.Errorf("start channel listener: %w", err)
	}

	for _, pcfg := range cfg.Portal {
		route, err := parseRoute(pcfg.OutletRoute)
		if err != nil {
			return fmt.Errorf("portal %s: %w", pcfg.Name, err)
		}
		if _, err := portal.Listen(n, pcfg.BindAddr, route, log); err != nil {
			return fmt.Errorf("start portal %s: %w", pcfg.Name, err)
		}
		log.Info("portal inlet listening", logger.String("name", pcfg.Name), logger.String("addr", pcfg.BindAddr))
	}

	if cfg.Forwarder.Enabled {
		hubRoute, err := parseRoute(cfg.Forwarder.HubRoute)
		if err != nil {
			return fmt.Errorf("forwarder: %w", err)
		}
		fw, err := forwarder.Register(n, hubRoute, cfg.Forwarder.Alias, forwarder.Options{
			HeartbeatInterval: cfg.Forwarder.HeartbeatInterval,
			Log:               log,
		})
		if err != nil {
			return fmt.Errorf("register forwarder: %w", err)
		}
		defer fw.Close()
		log.Info("registered with forwarding hub", logger.String("alias", cfg.Forwarder.Alias))
	}

	medic, err := session.NewMedic(n, session.Options{Log: log})
	if err != nil {
		return fmt.Errorf("start session supervisor: %w", err)
	}
	medic.Start()
	defer medic.Close()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", logger.Error(err))
			}
		}()
		defer srv.Close()
		log.Info("metrics listening", logger.String("addr", cfg.Metrics.Addr), logger.String("path", cfg.Metrics.Path))
	}

	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc(cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		srv := &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("health server stopped", logger.Error(err))
			}
		}()
		defer srv.Close()
		log.Info("health listening", logger.String("addr", cfg.Health.Addr), logger.String("path", cfg.Health.Path))
	}

	log.Info("node started", logger.String("environment", cfg.Environment))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	return nil
}

func parseLevel(s string) logger.Level {
	switch s {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}

func parseRoute(hops []string) (wire.Route, error) {
	route := make(wire.Route, 0, len(hops))
	for _, h := range hops {
		if h == "" {
			continue
		}
		route = append(route, wire.NewLocalAddress(h))
	}
	if len(route) == 0 {
		return nil, fmt.Errorf("route must have at least one hop")
	}
	return route, nil
}
