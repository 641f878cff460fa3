package main

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/edvart/haxstats/internal/store"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openOrCreateStore()
			if err != nil {
				return err
			}
			defer s.Close()

			v, err := s.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is at schema version %d\n", a.cfg.DatabasePath, v)
			return nil
		},
	}
}

func (a *app) backupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List, create and restore backups",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			backups, err := s.ListBackups()
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backups.")
				return nil
			}
			t := tablewriter.NewTable(cmd.OutOrStdout())
			t.Header("NAME", "REASON", "CREATED", "AGE", "SIZE")
			for _, b := range backups {
				t.Append(
					b.Name,
					b.Reason,
					b.CreatedAt.Format(time.DateTime),
					humanize.Time(b.CreatedAt),
					humanize.Bytes(uint64(b.Size)),
				)
			}
			return t.Render()
		},
	}

	create := &cobra.Command{
		Use:   "create [reason]",
		Short: "Take a backup now",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason := store.ReasonManual
			if len(args) == 1 {
				reason = args[0]
			}
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			b, err := s.CreateBackup(cmd.Context(), reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", b.Name, humanize.Bytes(uint64(b.Size)))
			return nil
		},
	}

	var force bool
	restore := &cobra.Command{
		Use:   "restore <name>",
		Short: "Replace the database with a backup",
		Long: `Replace the database with a backup. The current database is saved as a
pre_restore backup first. The restore is refused while a server holds the
database; a running server restores through POST /admin/backups/{name}/restore.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireForce(force); err != nil {
				return err
			}
			lock, err := store.Lock(a.cfg.DatabasePath)
			if err != nil {
				return errors.WithHint(err, "stop the server or restore through its admin API")
			}
			defer lock.Unlock()

			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			safety, err := s.RestoreBackup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s, previous database saved as %s\n", args[0], safety.Name)
			return nil
		},
	}
	restore.Flags().BoolVar(&force, "force", false, "confirm the restore")

	cmd.AddCommand(list, create, restore)
	return cmd
}

func (a *app) clearCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Zero every career stat and delete all matches (backup first)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireForce(force); err != nil {
				return err
			}
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			b, err := s.ClearAllStats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stats cleared, backup %s\n", b.Name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm the operation")
	return cmd
}

func (a *app) purgeCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete synthetic test players (backup first)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireForce(force); err != nil {
				return err
			}
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			n, b, err := s.PurgeSyntheticPlayers(cmd.Context())
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No synthetic players found.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s, backup %s\n", n, plural(n, "player", "players"), b.Name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm the operation")
	return cmd
}

func (a *app) deletePlayerCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete-player <name>",
		Short: "Delete one player by name (backup first)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireForce(force); err != nil {
				return err
			}
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			found, b, err := s.DeletePlayer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("player %q not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s, backup %s\n", args[0], b.Name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm the operation")
	return cmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
