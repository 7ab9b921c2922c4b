package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/threadline/internal/database"
)

// MigrateCommand returns the CLI command for applying the schema
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			db, err := database.NewDB(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.Migrate(c.Context, db); err != nil {
				return err
			}
			fmt.Println("Schema applied")
			return nil
		},
	}
}
