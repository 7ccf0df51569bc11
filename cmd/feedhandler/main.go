package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"mdp_go/internal/app"
	"mdp_go/internal/infra"
	"mdp_go/internal/infra/storage"

	_ "net/http/pprof" // For pprof profiling
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML configuration file",
		Value:   "configs/config.yaml",
		EnvVars: []string{"MDP_CONFIG"},
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Override logging.level (debug, info, warn, error)",
	}
	statusAddrFlag = &cli.StringFlag{
		Name:  "status-addr",
		Usage: "Override status.addr of the HTTP status server",
	}
	pprofFlag = &cli.BoolFlag{
		Name:  "pprof",
		Usage: "Enable the pprof HTTP server",
	}
	pprofAddrFlag = &cli.StringFlag{
		Name:  "pprof-addr",
		Usage: "Listen address for the pprof HTTP server",
		Value: "localhost:6060",
	}
	channelFlag = &cli.IntFlag{
		Name:  "channel",
		Usage: "Channel id",
	}
	deleteFlag = &cli.IntFlag{
		Name:  "delete",
		Usage: "Delete the stored definition of this security id instead of listing",
	}
	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Maximum number of rows",
		Value: 50,
	}
)

func main() {
	a := &cli.App{
		Name:   "feedhandler",
		Usage:  "MDP market data feed handler",
		Flags:  []cli.Flag{configFlag, logLevelFlag, statusAddrFlag, pprofFlag, pprofAddrFlag},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "Validate the configuration and print the channels",
				Action: check,
			},
			{
				Name:   "securities",
				Usage:  "List or delete stored security definitions of a channel",
				Flags:  []cli.Flag{channelFlag, deleteFlag},
				Action: listSecurities,
			},
			{
				Name:   "events",
				Usage:  "List recent recovery events of a channel",
				Flags:  []cli.Flag{channelFlag, limitFlag},
				Action: listEvents,
			},
		},
	}
	if err := a.Run(os.Args); err != nil {
		slog.Error("Feed handler failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*infra.Config, error) {
	cfg, err := infra.LoadConfig(c.String(configFlag.Name))
	if err != nil {
		return nil, err
	}
	if lvl := c.String(logLevelFlag.Name); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if addr := c.String(statusAddrFlag.Name); addr != "" {
		cfg.Status.Addr = addr
	}
	return cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if c.Bool(pprofFlag.Name) {
		addr := c.String(pprofAddrFlag.Name)
		go func() {
			slog.Info("Pprof server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	bootstrap := app.NewBootstrap(c.String(configFlag.Name))
	if err := bootstrap.InitializeWith(cfg); err != nil {
		return fmt.Errorf("bootstrapping failed: %w", err)
	}
	defer bootstrap.Close()

	if err := bootstrap.Build(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = bootstrap.Run(ctx)
	slog.Info("Shutting down gracefully...")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func check(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s: %d channel(s)\n", cfg.App.Name, cfg.App.Version, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		fmt.Printf("  channel %d incremental=%v snapshot=%v instrument=%v\n",
			ch.ID, ch.Incremental.Lines(), ch.Snapshot.Lines(), ch.Instrument.Lines())
	}
	return nil
}

func openStore(c *cli.Context) (*storage.Storage, int, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, 0, err
	}
	id := c.Int(channelFlag.Name)
	if _, err := cfg.Channel(id); err != nil {
		return nil, 0, err
	}
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return nil, 0, err
	}
	return store, id, nil
}

func listSecurities(c *cli.Context) error {
	store, id, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	if c.IsSet(deleteFlag.Name) {
		return store.DeleteSecurity(int32(c.Int(deleteFlag.Name)))
	}

	defs, err := store.ListSecurities(id)
	if err != nil {
		return err
	}
	return printJSON(defs)
}

func listEvents(c *cli.Context) error {
	store, id, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.ListChannelEvents(id, c.Int(limitFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(events)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
