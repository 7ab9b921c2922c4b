package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/threadline/internal/database"
	"github.com/threadline/internal/ingest"
)

// IngestCommand returns the CLI command for queueing one envelope
func IngestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Queue an activity envelope from a file or stdin",
		ArgsUsage: "[FILE]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "tenant",
				Aliases:  []string{"t"},
				Usage:    "Tenant the envelope belongs to",
				Required: true,
			},
		},
		Action: runIngest,
	}
}

func runIngest(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	raw, err := readEnvelope(c.Args().First())
	if err != nil {
		return err
	}

	dbURL, err := database.ResolveURL(cfg.Database.URL)
	if err != nil {
		return err
	}

	queue, err := ingest.NewInsertQueue(c.Context, dbURL)
	if err != nil {
		return err
	}
	defer queue.Close()

	if err := queue.EnqueueActivity(c.Context, c.String("tenant"), raw); err != nil {
		return err
	}

	fmt.Println("Envelope queued")
	return nil
}

func readEnvelope(path string) ([]byte, error) {
	if path == "" || path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return raw, nil
}
