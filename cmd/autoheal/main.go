// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the autoheal command. "resolve" heals one selector
// against a live page and "serve" runs the management API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/autoheal/internal/adapter/rodadapter"
	"github.com/traylinx/autoheal/internal/api"
	"github.com/traylinx/autoheal/internal/buildinfo"
	"github.com/traylinx/autoheal/internal/config"
	"github.com/traylinx/autoheal/internal/healer"
	"github.com/traylinx/autoheal/internal/logging"
	"github.com/traylinx/autoheal/internal/types"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "resolve":
		err = runResolve(os.Args[2:], os.Stdout)
	case "serve":
		err = runServe(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Println(buildinfo.String())
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `Usage: %s <command> [flags]

Commands:
  resolve   heal one selector against a page and print the result as JSON
  serve     run the management API until interrupted
  version   print build information

Run "%s <command> -h" for command flags.
`, filepath.Base(os.Args[0]), filepath.Base(os.Args[0]))
}

// loadConfig reads configPath, or config.yaml in the working directory when
// it exists, and applies logging settings.
func loadConfig(configPath string) (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	config.LoadDotEnv(wd)

	optional := configPath == ""
	if optional {
		configPath = filepath.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfigOptional(configPath, optional)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logging.SetDebug(cfg.Debug)
	logDir, err := cfg.ResolvedLogDir()
	if err != nil {
		return nil, err
	}
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, logDir, cfg.LogsMaxSizeMB); err != nil {
		return nil, fmt.Errorf("failed to configure log output: %w", err)
	}
	log.Infof("%s", buildinfo.String())
	return cfg, nil
}

func runResolve(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	configPath := fs.String("config", DefaultConfigPath, "configuration file path")
	pageURL := fs.String("url", "", "page to open (required)")
	sel := fs.String("selector", "", "original selector (required)")
	description := fs.String("description", "", "plain-language description of the element (required)")
	remote := fs.String("remote", "", "DevTools websocket URL of a running Chrome; empty launches one")
	headless := fs.Bool("headless", true, "launch Chrome headless")
	all := fs.Bool("all", false, "report every element the healed selector matches")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pageURL == "" || *sel == "" || *description == "" {
		fs.Usage()
		return errors.New("resolve: -url, -selector and -description are required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := eng.Close(); errClose != nil {
			log.Warnf("failed to close engine: %v", errClose)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	session, err := rodadapter.Open(ctx, rodadapter.Config{
		RemoteURL:         *remote,
		Headless:          *headless,
		NavigationTimeout: cfg.ElementTimeout(),
	}, *pageURL)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := session.Close(); errClose != nil {
			log.Warnf("failed to close browser: %v", errClose)
		}
	}()

	req := &types.LocatorRequest{
		OriginalSelector: *sel,
		Description:      *description,
		Adapter:          session.Adapter(),
	}

	report := resolveReport{}
	if *all {
		elements, result, errFind := eng.healer.FindAll(ctx, req)
		if errFind != nil {
			return errFind
		}
		report.Result = result
		report.Matches = len(elements)
	} else {
		result, errResolve := eng.healer.Resolve(ctx, req)
		if errResolve != nil {
			return errResolve
		}
		report.Result = result
		report.Matches = 1
	}
	report.Health = eng.healer.Health()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

type resolveReport struct {
	Result  *types.LocatorResult `json:"result"`
	Matches int                  `json:"matches"`
	Health  *healer.Health       `json:"health"`
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", DefaultConfigPath, "configuration file path")
	host := fs.String("host", "", "listen host; overrides api.host")
	port := fs.Int("port", 0, "listen port; overrides api.port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *host != "" {
		cfg.API.Host = *host
	}
	if *port != 0 {
		cfg.API.Port = *port
	}
	if !cfg.API.Enabled {
		log.Warn("api.enabled is false; the serve command starts the management API regardless")
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := eng.Close(); errClose != nil {
			log.Warnf("failed to close engine: %v", errClose)
		}
	}()

	var opts []api.ServerOption
	if !cfg.API.AllowRemote {
		opts = append(opts, api.WithLocalManagementOnly())
	}
	server := api.NewServer(eng.healer, eng.stateBox, opts...)
	addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
	if err := server.Start(addr); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			return server.Shutdown(shutdownCtx)
		case <-ticker.C:
			eng.healer.EvictExpired()
		}
	}
}
