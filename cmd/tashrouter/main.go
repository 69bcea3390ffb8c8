// tashrouter is an AppleTalk internet router: it brings up a set of
// ports (LocalTalk-over-UDP, TashTalk-serial, or raw-Ethernet EtherTalk),
// negotiates each port's network/node address, and runs the RTMP, ZIP,
// NBP, and Echo services over them until interrupted.
//
// Usage:
//
//	tashrouter -config router.yaml [-verbose]
//
// Options:
//
//	-config   path to a YAML RouterConfig (required)
//	-verbose  enable debug-level logging (default: info)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/logging"

	"github.com/tashrouter/tashrouter/internal/config"
	"github.com/tashrouter/tashrouter/pkg/router"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML RouterConfig")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "tashrouter: -config is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, *verbose); err != nil {
		log.Fatalf("tashrouter: %v", err)
	}
}

func run(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ports, err := cfg.BuildPorts()
	if err != nil {
		return fmt.Errorf("build ports: %w", err)
	}

	level := logging.LogLevelInfo
	if verbose {
		level = logging.LogLevelDebug
	}
	factory := &logging.DefaultLoggerFactory{
		Writer:          os.Stderr,
		DefaultLogLevel: level,
	}

	r := router.New(router.Config{Ports: ports, LoggerFactory: factory})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	log.Printf("tashrouter: running %d port(s), ctrl-C to stop", len(ports))
	<-ctx.Done()

	log.Println("tashrouter: shutting down")
	if err := r.Stop(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}
