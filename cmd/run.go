package main

import (
	"os"
	"os/signal"
	"syscall"

	"yarrow/pkg/args"

	"github.com/spf13/cobra"
)

// Run arguments
const (
	argHost     = "host"
	argSession  = "session"
	argScript   = "script"
	argRunners  = "runners"
	argProvider = "provider"
	argInterval = "interval"
	argVMID     = "vmid"
	argPort     = "port"
	argStore    = "store"
)

var (
	runKnownArgs     = []string{argHost, argSession, argScript, argRunners, argProvider, argInterval}
	runMandatoryArgs = []string{argHost, argSession, argScript}
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "run host=<addr> session=<id> script=<name> [runners=<n>] [key=value...]",
		Short:              "Provision a worker fleet and reconcile it until every worker has finished",
		Long:               "Provisions the requested number of workers in one bulk request, polls the cloud listing, deletes workers as soon as they stop, and exits once no worker is alive. Every argument is forwarded verbatim to the workload script.",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, tokens []string) error {
			values, err := args.Parse(tokens, runKnownArgs, true)
			if err != nil {
				return err
			}
			if err := values.Require(runMandatoryArgs...); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app := NewApplication(ctx, cmd.OutOrStdout(), values, tokens)
			defer app.Shutdown()

			if err := app.Initialize(); err != nil {
				return err
			}
			return app.Run()
		},
	}
}
