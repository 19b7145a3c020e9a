package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/imsgkit/imsgtui/internal/attachments"
	"github.com/imsgkit/imsgtui/internal/config"
	"github.com/imsgkit/imsgtui/internal/logger"
	"github.com/imsgkit/imsgtui/internal/notify"
	"github.com/imsgkit/imsgtui/internal/rpc"
	"github.com/imsgkit/imsgtui/internal/session"
	"github.com/imsgkit/imsgtui/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := flag.NewFlagSet("imsgtui", flag.ContinueOnError)
	configPath := flags.String("config", config.DefaultPath(), "path to config.toml")
	transport := flags.String("transport", "", "transport kind: local or tcp")
	imsgBin := flags.String("imsg-bin", "", "path to the imsg binary (local transport)")
	dbPath := flags.String("db", "", "backing-store path passed to the imsg binary")
	host := flags.String("host", "", "backend host (tcp transport)")
	port := flags.Int("port", 0, "backend port (tcp transport)")
	noNotify := flags.Bool("no-notify", false, "disable desktop notifications")
	logFile := flags.String("log-file", "", "log file path")
	logLevel := flags.String("log-level", "", "log level: debug, info, warn, error, none")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *transport != "" {
		cfg.Transport = config.TransportKind(*transport)
	}
	if *imsgBin != "" {
		cfg.ImsgBin = *imsgBin
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *noNotify {
		cfg.Notify = false
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("imsgtui requires a terminal")
	}

	if err := logger.Init(logger.ParseLevel(cfg.Log.Level), cfg.Log.File); err != nil {
		return err
	}
	defer logger.Global().Close()
	logger.Info("starting imsgtui (transport=%s)", cfg.Transport)

	dial := dialFunc(cfg)

	opts := session.Options{
		Alerts:   cfg.Notify,
		Notifier: notify.NewDesktop("imsg"),
	}
	if dir, err := attachments.DefaultDir(); err == nil {
		if cache, err := attachments.New(dir); err == nil {
			opts.Attachments = cache
		} else {
			logger.Warn("attachment cache disabled: %v", err)
		}
	}

	co := session.New(dial, opts)
	if err := co.Connect(); err != nil {
		return err
	}
	defer co.Close()

	program := tea.NewProgram(tui.New(co), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

// dialFunc binds the configured transport into the DialFunc the
// Coordinator reuses on every reconnect.
func dialFunc(cfg config.Config) session.DialFunc {
	if cfg.Transport == config.TransportTCP {
		return func() (*rpc.Conn, error) {
			return rpc.DialTCP(cfg.Host, cfg.Port)
		}
	}
	return func() (*rpc.Conn, error) {
		return rpc.DialLocal(cfg.ImsgBin, cfg.DBPath)
	}
}
