// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/umbranet/umbrad/internal/hostmetrics"
	"github.com/umbranet/umbrad/internal/version"
)

var cfg *config

// umbradMain is the real main function for umbrad.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is called.
func umbradMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	tcfg, _, err := loadConfig(appName)
	if err != nil {
		usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
		fmt.Fprintln(os.Stderr, err)
		var e errSuppressUsage
		if !errors.As(err, &e) {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Get a context that will be canceled when a shutdown signal has been
	// triggered from an OS signal such as SIGINT (Ctrl+C).
	ctx := shutdownListener()
	defer umbrLog.Info("Shutdown complete")

	// Show version and home dir at startup.
	umbrLog.Infof("Version %s (Go version %s %s/%s)", version.String(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	umbrLog.Infof("Home dir: %s", cfg.HomeDir)
	if cfg.NoFileLogging {
		umbrLog.Info("File logging disabled")
	}
	if cfg.Localnet {
		umbrLog.Warn("Localnet mode enabled: local and private peer " +
			"addresses are accepted")
	}

	// Load or generate the certificate presented to TLS peers.
	cert, err := loadPeerCert(cfg)
	if err != nil {
		umbrLog.Errorf("Unable to load peer certificate: %v", err)
		return err
	}

	// Create server.
	svr, err := newServer(cfg, cert)
	if err != nil {
		umbrLog.Errorf("Unable to create server: %v", err)
		return err
	}

	// Expose the ledger cardinalities along with the runtime metrics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		hostmetrics.NewCollector(svr.hosts),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Enable http profile server if requested.  The stop call is always
	// deferred to ensure it is stopped during process shutdown.
	profiler := newProfileServer(registry)
	defer profiler.Stop()
	if cfg.Profile != "" {
		const allowNonLoopback = true
		if err := profiler.Start(cfg.Profile, allowNonLoopback); err != nil {
			umbrLog.Warnf("unable to start profile server: %v", err)
			return err
		}
	}

	// Return now if a shutdown signal was triggered.
	if shutdownRequested(ctx) {
		return nil
	}

	// Run the server.  This will block until the context is cancelled which
	// happens when the interrupt signal is received.
	svr.Run(ctx)
	srvrLog.Infof("Server shutdown complete")
	return nil
}

func main() {
	// Work around defer not working after os.Exit()
	if err := umbradMain(); err != nil {
		os.Exit(1)
	}
}
