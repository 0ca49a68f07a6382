package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// dataCmd maintains the on-disk store
func newDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Inspect, back up and restore the local data directory",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show entity counts per collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Repository.Stats()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), st)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s, %d files, %d bytes)\n", st.BaseDir, st.Format, st.TotalFiles, st.TotalBytes)
			names := make([]string, 0, len(st.Collections))
			for name := range st.Collections {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "  %-14s %d\n", name, st.Collections[name])
			}
			return nil
		},
	}

	var dest string
	backup := &cobra.Command{
		Use:   "backup",
		Short: "Copy the data directory to a timestamped backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			path, err := a.Repository.Backup(dest)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", path)
			return nil
		},
	}
	backup.Flags().StringVar(&dest, "dest", "", "backup directory (default: <data>/../backups/backup_<time>)")

	restore := &cobra.Command{
		Use:   "restore [backup-dir]",
		Short: "Replace all collections with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Repository.Restore(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored from %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(stats, backup, restore)
	return cmd
}
