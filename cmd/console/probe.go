package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/universal-console/streamrpc/internal/registry"
	"github.com/universal-console/streamrpc/internal/ui/components"
)

var probeAll bool

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check whether a service is reachable",
	Long: `Send the availability probe (an HTTP HEAD request) for the selected profile or
endpoint without opening a socket. With --all every configured profile is probed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := initializeDependencies()
		if err != nil {
			return err
		}

		var results []registry.ProfileHealth
		if probeAll {
			results, err = deps.Registry.CheckAll(cmd.Context())
			if err != nil {
				return err
			}
		} else {
			profile, ok, err := deps.resolveProfile()
			if err != nil {
				return describeError(err)
			}
			if !ok {
				return fmt.Errorf("probe needs --profile, --endpoint or --all")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			results = append(results, deps.Registry.Monitor().CheckProfile(ctx, profile))
		}

		printHealth(results)
		if n := countNotReady(results); n > 0 {
			return fmt.Errorf("%d of %d profiles not ready", n, len(results))
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s v%s\n", ProgramName, Version)
	},
}

func init() {
	probeCmd.Flags().BoolVarP(&probeAll, "all", "a", false, "probe every configured profile")
}

func printHealth(results []registry.ProfileHealth) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tSTATUS\tTIME\tPROBE\tDETAIL")
	for _, r := range results {
		status := components.RenderStatus("success", r.Status)
		switch r.Status {
		case registry.StatusOffline:
			status = components.RenderStatus("error", r.Status)
		case registry.StatusError:
			status = components.RenderStatus("warning", r.Status)
		}
		detail := r.Hint
		if detail == "" {
			detail = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, status, r.ResponseTime.Round(time.Millisecond), r.ProbeURL, detail)
	}
	w.Flush()
}

func countNotReady(results []registry.ProfileHealth) int {
	n := 0
	for _, r := range results {
		if r.Status != registry.StatusReady {
			n++
		}
	}
	return n
}
