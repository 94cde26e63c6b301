/*
 * Copyright (c) 2026, ss-local-core Project
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Psiphon-Labs/ss-local-core/common/logging"
	"github.com/Psiphon-Labs/ss-local-core/local"
)

func main() {
	var configFilename string
	flag.StringVar(&configFilename, "config", "", "configuration input file")

	var remoteHost string
	flag.StringVar(&remoteHost, "server", "", "remote Shadowsocks server host")

	var remotePort uint
	flag.UintVar(&remotePort, "server-port", 0, "remote Shadowsocks server port")

	var password string
	flag.StringVar(&password, "password", "", "Shadowsocks password")

	var suite string
	flag.StringVar(&suite, "cipher", "AES-256-GCM", "AEAD cipher suite (AES-128-GCM, AES-256-GCM, CHACHA20-IETF-POLY1305)")

	var localPort uint
	flag.UintVar(&localPort, "local-port", uint(local.DefaultLocalPort), "local SOCKS5 listen port")

	var timeoutSeconds uint
	flag.UintVar(&timeoutSeconds, "timeout", uint(local.DefaultTimeout/time.Second), "connect and idle timeout, in seconds")

	var logLevel string
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warning, error)")

	var versionFlag bool
	flag.BoolVar(&versionFlag, "version", false, "print version and exit")

	flag.Parse()

	if versionFlag {
		fmt.Println("ss-local-core")
		return
	}

	logger := logging.NewLogger(logLevel)

	cfg := local.Config{
		RemoteHost: remoteHost,
		RemotePort: uint16(remotePort),
		Password:   []byte(password),
		Suite:      suite,
		LocalPort:  uint16(localPort),
		Timeout:    time.Duration(timeoutSeconds) * time.Second,
	}

	if configFilename != "" {
		fileCfg, err := loadFileConfig(configFilename)
		if err != nil {
			logger.WithTrace().Error(err)
			os.Exit(1)
		}
		cfg = fileCfg
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		logger.WithTrace().Info("received shutdown signal")
		cancel()
	}()

	configCh := make(chan local.Config, 1)
	if configFilename != "" {
		go watchConfigFile(ctx, configFilename, logger, func(newCfg local.Config) {
			logger.WithTrace().Info("reloaded configuration from disk, restarting listener")
			configCh <- newCfg
		})
	}

	if err := run(ctx, cfg, configCh, logger); err != nil {
		logger.WithTrace().Error(err)
		os.Exit(1)
	}
}

// run builds and serves a Listener, restarting it in place whenever a
// new Config arrives on configCh, until ctx is canceled. Restarting
// drops in-flight tunnels on the old listener's port; spec.md's Config
// is otherwise treated as immutable for a listener's lifetime, so a
// full stop-then-start is the only correct way to pick up a changed
// remote host, password, cipher suite, or local port.
func run(ctx context.Context, cfg local.Config, configCh <-chan local.Config, logger logging.Logger) error {
	for {
		ln, err := local.NewListener(cfg, logger)
		if err != nil {
			return err
		}
		logger.WithTrace().Info(fmt.Sprintf("ss-local listening on %s, relaying to %s", ln.Addr().String(), cfg.RemoteAddr()))

		serveCtx, cancelServe := context.WithCancel(ctx)
		serveDone := make(chan error, 1)
		go func() { serveDone <- ln.Serve(serveCtx) }()

		select {
		case <-ctx.Done():
			cancelServe()
			return <-serveDone
		case newCfg := <-configCh:
			cancelServe()
			<-serveDone
			cfg = newCfg
		}
	}
}

// watchConfigFile re-parses path whenever fsnotify reports a write and
// invokes onChange with the result; run's select loop is what actually
// stops the old Listener and starts a new one from it. watchConfigFile
// itself only watches and parses.
func watchConfigFile(ctx context.Context, path string, logger logging.Logger, onChange func(local.Config)) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithTrace().Warning(fmt.Sprintf("failed to create config watcher: %v", err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		logger.WithTrace().Warning(fmt.Sprintf("failed to watch config file: %v", err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			newCfg, err := loadFileConfig(path)
			if err != nil {
				logger.WithTrace().Warning(fmt.Sprintf("failed to reload config: %v", err))
				continue
			}
			onChange(newCfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WithTrace().Warning(fmt.Sprintf("config watcher error: %v", err))
		}
	}
}
