package cmd

import (
	"fmt"

	"github.com/openbmc/ikvmd/internal/logging"
	"github.com/openbmc/ikvmd/internal/updater"
	"github.com/spf13/cobra"
)

// newUpdateCmd wraps internal/updater.Service for offline, one-shot use
// from the command line. The serve command does not use the updater.
func newUpdateCmd(opts *Options) *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for and optionally apply a released update",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Initialize(logging.Config{Level: opts.LogLevel, Format: opts.LogFormat})

			svc, err := updater.NewService(&updater.Options{
				Repository: opts.Repository,
				Prerelease: opts.Prerelease,
			})
			if err != nil {
				return fmt.Errorf("create update service: %w", err)
			}
			if !svc.IsEnabled() {
				return fmt.Errorf("update service disabled: %s", svc.DisabledReason())
			}

			ctx := cmd.Context()
			info, err := svc.CheckForUpdate(ctx)
			if err != nil {
				return fmt.Errorf("check for update: %w", err)
			}
			if !info.UpdateAvailable {
				fmt.Fprintf(cmd.OutOrStdout(), "already up to date at %s\n", info.CurrentVersion)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "update available: %s -> %s\n", info.CurrentVersion, info.LatestVersion)

			if !apply {
				return nil
			}
			if err := svc.ApplyUpdate(ctx); err != nil {
				return fmt.Errorf("apply update: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "update applied, restarting")
			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "download and apply the update instead of only checking")
	cmd.Flags().StringVar(&opts.Repository, "repository", opts.Repository, "GitHub repository slug to check")
	cmd.Flags().BoolVar(&opts.Prerelease, "prerelease", opts.Prerelease, "include prereleases")

	return cmd
}
