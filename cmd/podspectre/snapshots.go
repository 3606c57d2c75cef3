package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/podspectre/internal/snapshot"
	"github.com/ppiankov/podspectre/pkg/config"
)

// NewSnapshotsCmd creates the snapshots command
func NewSnapshotsCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	var configPath string

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List stored daily snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, _, err := loadConfigFile(configPath)
			if err != nil {
				return err
			}
			if err := fc.Apply(cfg, cmd.Flags().Changed); err != nil {
				return err
			}

			store, err := snapshot.New(cfg.DataDir)
			if err != nil {
				return err
			}
			dates, err := store.Dates()
			if err != nil {
				return err
			}
			if len(dates) == 0 {
				cmd.Printf("no snapshots in %s\n", store.Dir())
				return nil
			}
			for _, date := range dates {
				entries, err := store.Read(date)
				if err != nil {
					return fmt.Errorf("failed to read snapshot %s: %w", date.Format(time.DateOnly), err)
				}
				cmd.Printf("%s  %d abnormal pods\n", date.Format(time.DateOnly), len(entries))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default: .podspectre.yaml in cwd or home)")
	cmd.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory holding daily snapshots")
	return cmd
}
