package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"boardflow/internal/config"
	"boardflow/internal/store"
)

var seedDemo bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if err := config.InitLogger(cfg); err != nil {
			return err
		}

		db, err := store.Open(cfg.Database, false)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		logrus.Info("Starting database migration...")
		if err := store.Migrate(db); err != nil {
			return err
		}
		logrus.Info("Database migration completed")

		if seedDemo {
			if err := store.SeedDemo(db); err != nil {
				return err
			}
			logrus.Infof("Seeded demo board %q", store.DemoBoardID)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&seedDemo, "seed", false, "also create a demo board with sample rules")
	rootCmd.AddCommand(migrateCmd)
}
