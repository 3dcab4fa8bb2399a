package cli

import (
	"fmt"
	"math"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/brsampler/brsampler/internal/phone"
	"github.com/brsampler/brsampler/internal/weights"
)

// CheckDataOptions holds flags for the checkdata command.
type CheckDataOptions struct {
	*RootOptions
	Locations []string
}

// NewCheckDataCommand creates the checkdata command. It loads the
// embedded location data plus any supplemental files and reports
// integrity problems: missing or invalid area codes, cities with no
// postal data, and weight normalization drift.
func NewCheckDataCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckDataOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkdata",
		Short: "Verify the integrity of the location reference data",
		Long: `Load the embedded location data (plus any --locations files) and report
cities with missing or invalid area codes, cities without postal data,
and weight tables that do not normalize to 1.

Example:
  brsampler checkdata --locations extra_ceps.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckData(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Locations, "locations", nil, "extra location JSON files merged over the embedded data")
	return cmd
}

type dataReport struct {
	States            int      `json:"states"`
	Cities            int      `json:"cities"`
	MissingAreaCode   []string `json:"missing_area_code,omitempty"`
	InvalidAreaCode   []string `json:"invalid_area_code,omitempty"`
	MissingPostalData []string `json:"missing_postal_data,omitempty"`
	WeightDrift       []string `json:"weight_drift,omitempty"`
}

func (r dataReport) clean() bool {
	return len(r.MissingAreaCode) == 0 &&
		len(r.InvalidAreaCode) == 0 &&
		len(r.MissingPostalData) == 0 &&
		len(r.WeightDrift) == 0
}

func runCheckData(cmd *cobra.Command, opts *CheckDataOptions) error {
	logger, err := newLogger(opts.Verbose)
	if err != nil {
		return WrapExitError(ExitCommandError, "initializing logger", err)
	}
	defer logger.Sync()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	ix, err := weights.LoadDefault(logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading embedded location data", err)
	}
	for _, src := range opts.Locations {
		if err := ix.MergeFile(src); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("merging %s", src), err)
		}
	}

	report := inspect(ix)

	if opts.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "states: %d, cities: %d\n", report.States, report.Cities)
		printIssues(formatter, "cities with no area code", report.MissingAreaCode)
		printIssues(formatter, "cities with an unassigned area code", report.InvalidAreaCode)
		printIssues(formatter, "cities with no postal data", report.MissingPostalData)
		printIssues(formatter, "weight tables off normalization", report.WeightDrift)
		if report.clean() {
			color.New(color.FgGreen, color.Bold).Fprintln(formatter.Writer, "✓ data is consistent")
		}
	}

	if !report.clean() {
		return NewExitError(ExitFailure, "location data has integrity problems")
	}
	return nil
}

func inspect(ix *weights.Index) dataReport {
	report := dataReport{
		States: ix.StateCount(),
		Cities: ix.CityCount(),
	}

	for _, rec := range ix.CityRecords() {
		label := fmt.Sprintf("%s (%s)", rec.Name, rec.StateAbbr)
		switch {
		case rec.AreaCode == "":
			report.MissingAreaCode = append(report.MissingAreaCode, label)
		case !phone.Valid(rec.AreaCode):
			report.InvalidAreaCode = append(report.InvalidAreaCode, label)
		}
		if !rec.HasPostalData() {
			report.MissingPostalData = append(report.MissingPostalData, label)
		}
	}

	if sum := weightSum(ix); math.Abs(sum-1) > 1e-9 {
		report.WeightDrift = append(report.WeightDrift,
			fmt.Sprintf("state weights sum to %.12f", sum))
	}

	return report
}

func weightSum(ix *weights.Index) float64 {
	sum := 0.0
	for _, sw := range ix.StateWeights() {
		sum += sw.Weight
	}
	return sum
}

func printIssues(f *OutputFormatter, label string, items []string) {
	if len(items) == 0 {
		return
	}
	color.New(color.FgYellow).Fprintf(f.Writer, "%s (%d):\n", label, len(items))
	for _, it := range items {
		fmt.Fprintf(f.Writer, "  - %s\n", it)
	}
}
