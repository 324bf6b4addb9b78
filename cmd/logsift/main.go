package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"logsift/internal/config"
	"logsift/internal/constants"
	"logsift/internal/index"
	"logsift/internal/ingest"
	"logsift/internal/logger"
	"logsift/internal/record"
	"logsift/internal/store"
	"logsift/internal/syslog"
	"logsift/pkg/logging"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceName,
		Short: "Syslog collector with a searchable index",
		Long:  "logsift receives syslog over UDP, indexes every message and serves search, export and import over HTTP",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (defaults apply when omitted)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(parseCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger.
func setup() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog(constants.ServiceName)

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, constants.ServiceName)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Receive syslog and serve the web API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting logsift", "syslog_ports", cfg.Syslog.Ports, "http_port", cfg.Server.Port)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				app.Shutdown(context.Background())
				return err
			}

			runErr := app.Run(ctx)
			if runErr != nil {
				log.ErrorwCtx(ctx, "Application error", "error", runErr)
			}
			if err := app.Shutdown(context.Background()); err != nil {
				log.ErrorwCtx(ctx, "Shutdown error", "error", err)
				if runErr == nil {
					runErr = err
				}
			}
			return runErr
		},
	}
}

func migrateCmd() *cobra.Command {
	var (
		src, dst string
		chunk    int
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Parse every stored message again into a new index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if src == "" {
				src = cfg.Index.Path
			}
			if src == dst {
				return fmt.Errorf("source and destination index are the same: %s", src)
			}

			srcEngine, err := index.OpenSQLite(ctx, src)
			if err != nil {
				return fmt.Errorf("failed to open source index: %w", err)
			}
			defer srcEngine.Close()
			dstEngine, err := index.OpenSQLite(ctx, dst)
			if err != nil {
				return fmt.Errorf("failed to open destination index: %w", err)
			}
			defer dstEngine.Close()

			parser, err := newParser(cfg)
			if err != nil {
				return err
			}

			_, err = ingest.Migrate(ctx,
				store.New(srcEngine, log),
				store.New(dstEngine, log),
				parser, chunk,
				func(done, total int64) {
					log.InfowCtx(ctx, "Migration progress", "done", done, "total", total)
				},
				log,
			)
			return err
		},
	}
	cmd.Flags().StringVar(&src, "src", "", "Source index path (defaults to index.path)")
	cmd.Flags().StringVar(&dst, "dst", "migrated.db", "Destination index path")
	cmd.Flags().IntVar(&chunk, "chunk", constants.MigrationChunkSize, "Records per commit")
	return cmd
}

func parseCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Print how each line of a file would be parsed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			in := os.Stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			parser, err := newParser(cfg)
			if err != nil {
				return err
			}

			zone := cfg.ServerZone()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			scanner := bufio.NewScanner(in)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" {
					continue
				}
				if _, err := parser.ParseText(addr, line); err != nil {
					log.Warnw("Line did not parse cleanly", "line", line, "error", err)
				}
				pkt := syslog.RawPacket{Addr: addr, Data: []byte(line), ReceivedAt: time.Now()}
				if err := enc.Encode(parsedView(pkt, parser.Parse(pkt), zone)); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Source address used to pick the legacy timestamp zone")
	return cmd
}

// parsedView is the record a packet would become, minus the fields only
// the index assigns.
func parsedView(pkt syslog.RawPacket, msg syslog.Message, zone *time.Location) map[string]string {
	rec := record.FromMessage(pkt, msg, 0)
	out := rec.Fields(zone)
	delete(out, record.SortKey.Name())
	for _, f := range record.StoredFields() {
		if v := rec.Value(f, zone); v != "" {
			out[f.Name()] = v
		}
	}
	return out
}

func newParser(cfg *config.Config) (*syslog.Parser, error) {
	def, byAddr, err := cfg.SyslogZones()
	if err != nil {
		return nil, fmt.Errorf("invalid syslog timezone: %w", err)
	}
	return syslog.NewParser(syslog.WithZoneResolver(ingest.ZoneResolver(def, byAddr))), nil
}
