package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"mpc-solution-core/recorder"
	"mpc-solution-core/utils"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "Node YAML config (defaults when empty)")
		scenPath = flag.String("scenario", "", "Scenario JSON file (straight line when empty)")
		iface    = flag.String("iface", "", "SocketCAN interface name, overrides config")
		mapPath  = flag.String("map", "", "Path to can_map.csv, overrides config")
		listen   = flag.String("listen", "", "gRPC solution stream address, overrides config")
		record   = flag.String("record", "", "SQLite recording file, overrides config")
		logLevel = flag.String("log", "", "trace|debug|info|warn|error|critical")
		replay   = flag.String("replay", "", "Print a recorded session from -record as JSON lines and exit")
		summary  = flag.Bool("summary", false, "With -replay, print per-message summaries instead of JSON")
		sessions = flag.Bool("sessions", false, "List sessions in -record and exit")
	)
	flag.Parse()

	cfg, err := LoadNodeConfig(*cfgPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: config: " + err.Error() + "\n")
		os.Exit(1)
	}
	override(&cfg.Interface, *iface)
	override(&cfg.CANMap, *mapPath)
	override(&cfg.Listen, *listen)
	override(&cfg.Record, *record)
	override(&cfg.LogLevel, *logLevel)

	log, err := utils.NewFileLogger(cfg.LogFile, utils.ParseLevel(cfg.LogLevel), true)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + cfg.LogFile + ": " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *replay != "" || *sessions {
		// Replay output goes to stdout too; keep routine logging out of it.
		if log.Enabled(utils.INFO) {
			log.SetMinLevel(utils.WARN)
		}
		if err := inspect(ctx, cfg.Record, *replay, *sessions, *summary); err != nil {
			log.Critical("Replay failed: %v", err)
			os.Exit(1)
		}
		return
	}

	scen := DefaultScenario()
	if *scenPath != "" {
		scen, err = LoadScenario(*scenPath)
		if err != nil {
			log.Critical("Load scenario: %v", err)
			os.Exit(1)
		}
	}

	runner, err := NewRunner(ctx, cfg, scen, log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		os.Exit(1)
	}
}

func override(dst *string, flagValue string) {
	if flagValue != "" {
		*dst = flagValue
	}
}

func inspect(ctx context.Context, path, session string, list, summary bool) error {
	if path == "" {
		return errors.New("-record is required")
	}
	rec, err := recorder.Open(path, nil)
	if err != nil {
		return err
	}
	defer rec.Close()

	if list {
		return listSessions(ctx, rec, os.Stdout)
	}
	return replaySession(ctx, rec, session, os.Stdout, summary)
}
