package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild local counters from the tracker",
	Long: `Recomputes every derived counter (totals, pending audits, legacy
done) from the tracker and adopts the remote values. The tracker is the
source of truth; the local state file is only a cache of it.`,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := setup(true)
		if err != nil {
			fatal(err)
		}
		defer e.close()

		drift, err := e.state.Reconcile(rootCtx, e.tracker)
		if err != nil {
			fatal(err)
		}

		if jsonOutput {
			emitJSON(drift)
			return
		}
		if len(drift) == 0 {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Local state matches the tracker.\n", green("✓"))
			return
		}
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s Corrected %d counter(s):\n", yellow("⚠"), len(drift))
		for _, d := range drift {
			fmt.Printf("  %s\n", d)
		}
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
