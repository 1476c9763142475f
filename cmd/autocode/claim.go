package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/autocode-hq/autocode/internal/claims"
)

var claimFiles []string

var claimCmd = &cobra.Command{
	Use:   "claim ISSUE_ID [FILES...]",
	Short: "Claim an issue and move it to in_progress",
	Long: `Takes exclusive ownership of an issue through the advisory claim
registry, then moves it to in_progress. Declared files (positional or
--file) are locked too: another worker whose issue touches the same files
cannot claim.

A conflict is not retried; pick different work.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := setup(true)
		if err != nil {
			fatal(err)
		}
		defer e.close()

		claimFiles = append(claimFiles, args[1:]...)
		issue, err := e.controller.Claim(rootCtx, args[0], claimFiles...)
		if err != nil {
			var conflict *claims.ErrConflict
			if errors.As(err, &conflict) && !jsonOutput {
				yellow := color.New(color.FgYellow).SprintFunc()
				fmt.Printf("%s %v\n", yellow("✗"), conflict)
				fmt.Println("  Pick a different issue; claims are not queued.")
				return
			}
			fatal(err)
		}
		// The claim outlives this process.
		e.keepClaims = true

		if jsonOutput {
			emitJSON(issue)
			return
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Claimed %s: %s\n", green("✓"), issue.ID, issue.Title)
		if len(claimFiles) > 0 {
			fmt.Printf("  Locked files: %s\n", strings.Join(claimFiles, ", "))
		}
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release ISSUE_ID",
	Short: "Release this worker's claim on an issue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := setup(true)
		if err != nil {
			fatal(err)
		}
		defer e.close()

		if err := e.controller.Release(args[0]); err != nil {
			if errors.Is(err, claims.ErrNotClaimed) {
				if jsonOutput {
					emitJSON(map[string]any{"released": false, "issue_id": args[0]})
					return
				}
				fmt.Printf("Nothing to release: %s is not claimed\n", args[0])
				return
			}
			fatal(err)
		}
		if jsonOutput {
			emitJSON(map[string]any{"released": true, "issue_id": args[0]})
			return
		}
		fmt.Printf("Released %s\n", args[0])
	},
}

var checkCmd = &cobra.Command{
	Use:   "check ISSUE_ID",
	Short: "Check whether an issue is claimed, and by whom",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := setup(true)
		if err != nil {
			fatal(err)
		}
		defer e.close()

		holder := e.registry.Holder(args[0])
		if jsonOutput {
			emitJSON(map[string]any{"issue_id": args[0], "claimed": holder != "", "holder": holder})
			return
		}
		if holder == "" {
			fmt.Printf("%s is unclaimed\n", args[0])
			return
		}
		fmt.Printf("%s is claimed by worker %s\n", args[0], holder)
	},
}

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "List all active claims in this project",
	Run: func(cmd *cobra.Command, args []string) {
		e, err := setup(true)
		if err != nil {
			fatal(err)
		}
		defer e.close()

		all := e.registry.AllClaims()
		if jsonOutput {
			emitJSON(all)
			return
		}
		if len(all) == 0 {
			fmt.Println("No active claims.")
			return
		}
		for issueID, claim := range all {
			fmt.Printf("%s  worker %s  since %s\n",
				issueID, claim.WorkerID, claim.ClaimedAt.Format("15:04:05"))
			if len(claim.Files) > 0 {
				fmt.Printf("  files: %s\n", strings.Join(claim.Files, ", "))
			}
		}
	},
}

var filesCmd = &cobra.Command{
	Use:   "files FILE...",
	Short: "Show which claims lock the given files",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := setup(true)
		if err != nil {
			fatal(err)
		}
		defer e.close()

		locks := map[string]map[string]string{} // file -> {issue_id, worker_id}
		for issueID, claim := range e.registry.AllClaims() {
			for _, f := range claim.Files {
				locks[f] = map[string]string{"issue_id": issueID, "worker_id": claim.WorkerID}
			}
		}
		if jsonOutput {
			out := map[string]any{}
			for _, f := range args {
				if lock, ok := locks[f]; ok {
					out[f] = lock
				} else {
					out[f] = nil
				}
			}
			emitJSON(out)
			return
		}
		for _, f := range args {
			if lock, ok := locks[f]; ok {
				fmt.Printf("%s  locked by %s (worker %s)\n", f, lock["issue_id"], lock["worker_id"])
			} else {
				fmt.Printf("%s  unlocked\n", f)
			}
		}
	},
}

func init() {
	claimCmd.Flags().StringSliceVar(&claimFiles, "file", nil, "file to lock with this claim (repeatable)")
	rootCmd.AddCommand(claimCmd, releaseCmd, checkCmd, claimsCmd, filesCmd)
}
