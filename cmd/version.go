package cmd

import (
	"fmt"

	"github.com/openbmc/ikvmd/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "ikvmd %s (%s, built %s, %s/%s)\n",
				info.Version, info.GitCommit, info.BuildDate, info.GoVersion, info.Platform)
			return nil
		},
	}
}
