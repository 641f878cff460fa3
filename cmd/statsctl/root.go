package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/edvart/haxstats/internal/config"
	"github.com/edvart/haxstats/internal/store"
)

var errNotForced = errors.New("refusing to change the database without --force")

type app struct {
	dbPath    string
	backupDir string
	cfg       *config.Config
	log       *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "statsctl",
		Short:         "Administer a haxstats database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "path to the SQLite database (default from config)")
	root.PersistentFlags().StringVar(&a.backupDir, "backup-dir", "", "backup directory (default from config)")

	root.AddCommand(
		a.migrateCmd(),
		a.backupsCmd(),
		a.clearCmd(),
		a.purgeCmd(),
		a.deletePlayerCmd(),
		a.rankCmd(),
		a.replayCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DatabasePath = a.dbPath
	}
	if a.backupDir != "" {
		cfg.BackupDir = a.backupDir
	}
	log, err := cfg.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

func (a *app) openStore() (*store.SQLiteStore, error) {
	if _, err := os.Stat(a.cfg.DatabasePath); err != nil {
		return nil, errors.Wrapf(err, "database %s", a.cfg.DatabasePath)
	}
	return a.openOrCreateStore()
}

func (a *app) openOrCreateStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(a.cfg.DatabasePath, store.Options{
		BackupDir:         a.cfg.BackupDirectory(),
		SyntheticPrefixes: a.cfg.SyntheticPrefixes,
		Logger:            a.log,
	})
}

func requireForce(force bool) error {
	if !force {
		return errNotForced
	}
	return nil
}
