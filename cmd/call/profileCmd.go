package call

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ValentinKolb/fab/cmd/util"
	"github.com/ValentinKolb/fab/rpc/profiler"
	"github.com/spf13/cobra"
)

var (
	// ProfileCmd represents the profile command
	ProfileCmd = &cobra.Command{
		Use:   "profile [action] [params-json]",
		Short: "Measure where the time of an action goes",
		Long: `Send the same action a number of times (one at a time) with per hop timing enabled and print avg, p50, p95 and max of every hop, e.g.
  fab profile getContent '{"format":"title"}' --count 50`,
		Args:     cobra.RangeArgs(0, 2),
		PreRunE:  setupClient,
		RunE:     runProfile,
		PostRunE: closeClient,
	}
)

func init() {
	ProfileCmd.Flags().Int("count", 10, util.WrapString("Number of calls"))
	ProfileCmd.Flags().Bool("json", true, util.WrapString("Print the report as JSON (false prints a table)"))
}

func runProfile(cmd *cobra.Command, args []string) error {
	action := "ping"
	if len(args) > 0 {
		action = args[0]
	}
	params, err := parseParams(args)
	if err != nil {
		return err
	}
	count, _ := cmd.Flags().GetInt("count")
	asJSON, _ := cmd.Flags().GetBool("json")

	report, runErr := profiler.Run(contextOf(cmd), wsClient, action, params, count)
	if report == nil {
		return runErr
	}

	if asJSON {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printTable(report)
	}
	return runErr
}

// printTable prints one row per timing series
func printTable(report *profiler.Report) {
	fmt.Printf("%s: %d calls (%d failed)\n\n", report.Action, report.Count, report.Failed)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "series\tavg\tp50\tp95\tmax\t")
	for _, name := range report.Names() {
		stats := report.Series[name]
		if stats == nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t\n", name)
			continue
		}
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t\n", name, stats.Avg, stats.P50, stats.P95, stats.Max)
	}
	w.Flush()
}
