package main

import (
	"fmt"

	"yarrow/pkg/args"
	"yarrow/pkg/config"
	"yarrow/pkg/indexclient"
	"yarrow/pkg/logger"

	"github.com/spf13/cobra"
)

var nextIDKnownArgs = []string{argHost, argSession, argVMID}

func newNextIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "nextid [host=<addr:port>] [session=<id>] [vmid=<n>]",
		Short:              "Request the next index from the index-allocation service",
		Long:               "Prints the next index of the session. Any failure is logged and 0 is printed instead.",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, tokens []string) error {
			values, err := args.Parse(tokens, nextIDKnownArgs, false)
			if err != nil {
				return err
			}
			if err := config.Init(); err != nil {
				return err
			}
			if err := logger.Init(); err != nil {
				return err
			}
			cfg := config.GlobalConfig
			if err := applyIndexEnv(&cfg.Index); err != nil {
				return err
			}

			host := values.String(argHost, fmt.Sprintf("%s:%d", cfg.Index.Host, cfg.Index.Port))
			client := indexclient.NewClient(host)
			id := client.NextIDOrZero(cmd.Context(), values.String(argSession, ""), values.String(argVMID, ""))

			fmt.Fprintf(cmd.OutOrStdout(), "Next id is %d\n", id)
			return nil
		},
	}
}
