package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/threadline/internal/activity"
	"github.com/threadline/internal/config"
	"github.com/threadline/internal/conversation"
	"github.com/threadline/internal/database"
	"github.com/threadline/internal/emitter"
	"github.com/threadline/internal/ingest"
	"github.com/threadline/internal/member"
	"github.com/threadline/internal/retry"
	"github.com/threadline/internal/storage"
	"github.com/threadline/internal/tenant"
)

// ServeCommand returns the CLI command for running the ingestion workers
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the ingestion workers",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "migrate",
				Usage: "Apply the database schema before starting",
				Value: true,
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbURL, err := database.ResolveURL(cfg.Database.URL)
	if err != nil {
		return err
	}

	var db *sql.DB
	err = retry.Do(ctx, retry.DatabaseConfig(), "database connect", func() error {
		var connErr error
		db, connErr = database.NewDB(dbURL)
		return connErr
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if c.Bool("migrate") {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	engine := buildEngine(db)

	queue, err := ingest.NewQueue(ctx, dbURL, engine, nil)
	if err != nil {
		return err
	}
	if cfg.Sync.Enabled {
		engine.SetNotifier(emitter.NewSync(emitter.NewRiverEmitter(queue.Client())))
	}

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("starting workers: %w", err)
	}
	log.Info().Str("environment", cfg.General.Environment).Msg("threadline workers started")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return queue.Stop(context.Background())
}

func buildEngine(db *sql.DB) *activity.Engine {
	return activity.NewEngine(
		storage.NewSQLManager(db),
		activity.NewPostgresStore(db),
		member.NewService(member.NewPostgresStore(db)),
		conversation.NewService(conversation.NewPostgresStore(db)),
		tenant.NewPostgresSettingsStore(db),
		nil,
	)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	applyLogLevel(cfg.General.LogLevel)
	return cfg, nil
}

func applyLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
