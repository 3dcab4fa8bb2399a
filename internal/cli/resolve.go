package cli

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/brsampler/brsampler/internal/resolver"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	ResolverCmd []string
	Workers     int
	MaxRetries  int
	Offline     bool
}

// NewResolveCommand creates the resolve command, a direct front end to
// the worker pool for spot-checking CEPs.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <cep> [cep...]",
		Short: "Resolve one or more CEPs to address data",
		Long: `Resolve CEPs through the worker pool and print the results in input
order. Uses the external resolver unless --offline is given.

Example:
  brsampler resolve 01310-100 20040-020 --resolver-cmd "node,cep_service.js"
  brsampler resolve 01310100 --offline`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.ResolverCmd, "resolver-cmd", nil, "external resolver command (comma-separated argv)")
	f.IntVar(&opts.Workers, "workers", 100, "resolution worker pool size")
	f.IntVar(&opts.MaxRetries, "max-retries", 3, "attempts per CEP before giving up")
	f.BoolVar(&opts.Offline, "offline", false, "generate synthetic addresses instead of calling the resolver")

	return cmd
}

func runResolve(cmd *cobra.Command, opts *ResolveOptions, ceps []string) error {
	logger, err := newLogger(opts.Verbose)
	if err != nil {
		return WrapExitError(ExitCommandError, "initializing logger", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	synth := resolver.NewSynthetic(rand.New(rand.NewSource(time.Now().UnixNano())))
	var client resolver.Client = synth
	if !opts.Offline {
		if len(opts.ResolverCmd) == 0 {
			return NewExitError(ExitCommandError, "--resolver-cmd is required unless --offline is given")
		}
		client, err = resolver.NewExecClient(opts.ResolverCmd, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "configuring resolver", err)
		}
	}

	pool := resolver.NewPool(client, synth, resolver.Config{
		Workers:    opts.Workers,
		MaxRetries: opts.MaxRetries,
	}, logger)

	results := pool.Resolve(ctx, ceps)

	if opts.Format == "json" {
		payload := make([]map[string]interface{}, len(results))
		for i, r := range results {
			entry := map[string]interface{}{
				"cep":    r.CEP,
				"status": string(r.Status),
			}
			if r.Status != resolver.StatusError {
				entry["street"] = r.Street
				entry["neighborhood"] = r.Neighborhood
				entry["city"] = r.City
				entry["state"] = r.State
			} else if r.Err != nil {
				entry["error"] = r.Err.Error()
			}
			payload[i] = entry
		}
		return formatter.Success(payload)
	}

	failed := 0
	for _, r := range results {
		switch r.Status {
		case resolver.StatusError:
			failed++
			color.New(color.FgRed).Fprintf(formatter.Writer, "%s: error: %v\n", r.CEP, r.Err)
		default:
			fmt.Fprintf(formatter.Writer, "%s: %s, %s", r.CEP, r.Street, r.Neighborhood)
			if r.City != "" {
				fmt.Fprintf(formatter.Writer, " (%s/%s)", r.City, r.State)
			}
			if r.Status == resolver.StatusDegraded {
				color.New(color.FgYellow).Fprint(formatter.Writer, " [degraded]")
			}
			fmt.Fprintln(formatter.Writer)
		}
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d CEPs failed to resolve", failed, len(results)))
	}
	return nil
}
