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
	"go.uber.org/zap"

	"github.com/brsampler/brsampler/internal/cepcache"
	"github.com/brsampler/brsampler/internal/config"
	"github.com/brsampler/brsampler/internal/orchestrator"
	"github.com/brsampler/brsampler/internal/person"
	"github.com/brsampler/brsampler/internal/resolver"
	"github.com/brsampler/brsampler/internal/sampler"
	"github.com/brsampler/brsampler/internal/weights"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	ConfigPath string

	Quantity       int
	OutPath        string
	Append         bool
	BatchSize      int
	Seed           int64
	TimePeriod     string
	AlwaysMiddle   bool
	CEPWithoutDash bool
	Locations      []string

	CPF           bool
	RG            bool
	PIS           bool
	CNPJ          bool
	CEI           bool
	Phone         bool
	All           bool
	IncludeIssuer bool

	API         bool
	ResolverCmd []string
	Workers     int
	CachePath   string
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate synthetic personal records to a JSONL file",
		Long: `Generate draft records (name, location, CEP, requested documents),
resolve street addresses per CEP in sub-batches, and append the merged
records to a JSONL file.

Example:
  brsampler generate -q 250 --cpf --phone -o people.jsonl
  brsampler generate -q 50 --all --api --resolver-cmd "node,cep_service.js"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	f.IntVarP(&opts.Quantity, "quantity", "q", 1, "number of records to generate")
	f.StringVarP(&opts.OutPath, "out", "o", "out.jsonl", "output JSONL file")
	f.BoolVar(&opts.Append, "append", false, "append to the output file instead of overwriting")
	f.IntVar(&opts.BatchSize, "batch-size", orchestrator.DefaultBatchSize, "records per sub-batch")
	f.Int64Var(&opts.Seed, "seed", 0, "random seed (0 = time-based)")
	f.StringVar(&opts.TimePeriod, "time-period", string(person.Until2010), "birth-decade bucket for first names")
	f.BoolVar(&opts.AlwaysMiddle, "always-middle", false, "always include a middle name")
	f.BoolVar(&opts.CEPWithoutDash, "cep-no-dash", false, "emit CEPs as bare digits")
	f.StringSliceVar(&opts.Locations, "locations", nil, "extra location JSON files merged over the embedded data")

	f.BoolVar(&opts.CPF, "cpf", false, "include CPF")
	f.BoolVar(&opts.RG, "rg", false, "include RG")
	f.BoolVar(&opts.PIS, "pis", false, "include PIS")
	f.BoolVar(&opts.CNPJ, "cnpj", false, "include CNPJ")
	f.BoolVar(&opts.CEI, "cei", false, "include CEI")
	f.BoolVar(&opts.Phone, "phone", false, "include a phone number bound to the city's area code")
	f.BoolVar(&opts.All, "all", false, "include every document kind")
	f.BoolVar(&opts.IncludeIssuer, "include-issuer", false, "suffix RG with the issuing authority")

	f.BoolVar(&opts.API, "api", false, "resolve addresses through the external resolver")
	f.StringSliceVar(&opts.ResolverCmd, "resolver-cmd", nil, "external resolver command (comma-separated argv)")
	f.IntVar(&opts.Workers, "workers", 100, "resolution worker pool size")
	f.StringVar(&opts.CachePath, "cache", "", "path to a CEP cache database (disabled when empty)")

	return cmd
}

func runGenerate(cmd *cobra.Command, opts *GenerateOptions) error {
	cfg, err := buildConfig(cmd, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading configuration", err)
	}

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

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	ix, err := weights.LoadDefault(logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading embedded location data", err)
	}
	for _, src := range cfg.LocationSources {
		if err := ix.MergeFile(src); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("merging %s", src), err)
		}
		formatter.VerboseLog("merged supplemental table %s", src)
	}

	loc := sampler.New(ix, rng, logger)
	names, err := person.New(rng, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading names data", err)
	}

	pool, closeCache, err := buildPool(cfg, rng, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "configuring resolver", err)
	}
	defer closeCache()

	req := orchestrator.Request{
		Quantity: cfg.Quantity,
		Documents: orchestrator.DocumentRequest{
			CPF:           cfg.CPF,
			RG:            cfg.RG,
			PIS:           cfg.PIS,
			CNPJ:          cfg.CNPJ,
			CEI:           cfg.CEI,
			Phone:         cfg.Phone,
			IncludeIssuer: cfg.IncludeIssuer,
		},
		TimePeriod:     person.TimePeriod(cfg.TimePeriod),
		AlwaysMiddle:   cfg.AlwaysMiddle,
		CEPWithoutDash: cfg.CEPWithoutDash,
		BatchSize:      cfg.BatchSize,
		OutPath:        cfg.OutPath,
		Append:         cfg.Append,
	}

	orch := orchestrator.New(ix, loc, names, pool, rng, logger)
	result, err := orch.Generate(ctx, req, textProgress(formatter))
	if err != nil {
		return classifyGenerateError(err)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]interface{}{
			"run_id":     result.RunID,
			"written":    result.Written,
			"degraded":   result.Degraded,
			"unresolved": result.Unresolved,
			"out":        cfg.OutPath,
		})
	}

	green := color.New(color.FgGreen, color.Bold)
	green.Fprintf(formatter.Writer, "✓ wrote %d records to %s\n", result.Written, cfg.OutPath)
	if result.Degraded > 0 || result.Unresolved > 0 {
		yellow := color.New(color.FgYellow)
		yellow.Fprintf(formatter.Writer, "  %d degraded, %d unresolved\n",
			result.Degraded, result.Unresolved)
	}
	return nil
}

// buildConfig layers changed flags over the config file (or defaults).
func buildConfig(cmd *cobra.Command, opts *GenerateOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.LoadFile(opts.ConfigPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	f := cmd.Flags()
	if f.Changed("quantity") {
		cfg.Quantity = opts.Quantity
	}
	if f.Changed("out") {
		cfg.OutPath = opts.OutPath
	}
	if f.Changed("append") {
		cfg.Append = opts.Append
	}
	if f.Changed("batch-size") {
		cfg.BatchSize = opts.BatchSize
	}
	if f.Changed("seed") {
		cfg.Seed = opts.Seed
	}
	if f.Changed("time-period") {
		cfg.TimePeriod = opts.TimePeriod
	}
	if f.Changed("always-middle") {
		cfg.AlwaysMiddle = opts.AlwaysMiddle
	}
	if f.Changed("cep-no-dash") {
		cfg.CEPWithoutDash = opts.CEPWithoutDash
	}
	if f.Changed("locations") {
		cfg.LocationSources = opts.Locations
	}
	if f.Changed("cpf") {
		cfg.CPF = opts.CPF
	}
	if f.Changed("rg") {
		cfg.RG = opts.RG
	}
	if f.Changed("pis") {
		cfg.PIS = opts.PIS
	}
	if f.Changed("cnpj") {
		cfg.CNPJ = opts.CNPJ
	}
	if f.Changed("cei") {
		cfg.CEI = opts.CEI
	}
	if f.Changed("phone") {
		cfg.Phone = opts.Phone
	}
	if f.Changed("include-issuer") {
		cfg.IncludeIssuer = opts.IncludeIssuer
	}
	if opts.All {
		cfg.CPF, cfg.RG, cfg.PIS, cfg.CNPJ, cfg.CEI, cfg.Phone = true, true, true, true, true, true
	}
	if f.Changed("api") {
		if opts.API {
			cfg.Resolve.Mode = string(resolver.ModeExternal)
		} else {
			cfg.Resolve.Mode = string(resolver.ModeOffline)
		}
	}
	if f.Changed("resolver-cmd") {
		cfg.Resolve.Command = opts.ResolverCmd
	}
	if f.Changed("workers") {
		cfg.Resolve.Workers = opts.Workers
	}
	if f.Changed("cache") {
		cfg.CachePath = opts.CachePath
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// buildPool assembles the resolution pool per config: synthetic client
// offline, exec client (optionally cache-wrapped) in external mode.
func buildPool(cfg config.Config, rng *rand.Rand, logger *zap.Logger) (*resolver.Pool, func(), error) {
	synth := resolver.NewSynthetic(rand.New(rand.NewSource(rng.Int63())))
	closeCache := func() {}

	var client resolver.Client = synth
	if cfg.Resolve.Mode == string(resolver.ModeExternal) {
		exec, err := resolver.NewExecClient(cfg.Resolve.Command, logger)
		if err != nil {
			return nil, nil, err
		}
		client = exec

		if cfg.CachePath != "" {
			cache, err := cepcache.Open(cfg.CachePath, logger)
			if err != nil {
				return nil, nil, err
			}
			client = cepcache.NewCachingClient(exec, cache)
			closeCache = func() { cache.Close() }
		}
	}

	poolCfg := resolver.Config{
		Workers:        cfg.Resolve.Workers,
		MaxRetries:     cfg.Resolve.MaxRetries,
		RetryDelay:     cfg.Resolve.RetryDelay,
		AttemptTimeout: cfg.Resolve.AttemptTimeout,
	}
	return resolver.NewPool(client, synth, poolCfg, logger), closeCache, nil
}

// textProgress renders progress to stderr in text mode so stdout stays
// clean for JSON output.
func textProgress(f *OutputFormatter) orchestrator.ProgressFunc {
	if f.Format == "json" {
		return nil
	}
	cyan := color.New(color.FgCyan)
	return func(ev orchestrator.ProgressEvent) {
		cyan.Fprintf(f.GetErrWriter(), "[%d] %s\n", ev.Completed, ev.Stage)
	}
}

// classifyGenerateError maps pipeline errors onto exit codes.
func classifyGenerateError(err error) error {
	switch {
	case weights.IsMissingAreaCode(err):
		return WrapExitError(ExitFailure, "a drawn city has no area code but a phone was requested", err)
	case sampler.IsCityNotFound(err), sampler.IsNoPostalCode(err):
		return WrapExitError(ExitFailure, "location data cannot produce a postal code", err)
	case weights.IsSchemaError(err):
		return WrapExitError(ExitCommandError, "location data is malformed", err)
	default:
		return WrapExitError(ExitFailure, "generation failed", err)
	}
}
