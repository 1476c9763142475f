package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/autocode-hq/autocode/internal/meta"
)

var logNote string

var logCmd = &cobra.Command{
	Use:   "log [MESSAGE]",
	Short: "Show the META issue's session history, or append a note",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := setup(true)
		if err != nil {
			fatal(err)
		}
		defer e.close()

		if len(args) == 1 && logNote == "" {
			logNote = args[0]
		}
		if logNote != "" {
			err := meta.AppendSummary(rootCtx, e.tracker, e.state, &meta.SessionSummary{
				Worker: e.actor,
				Notes:  logNote,
			})
			if err != nil {
				fatal(err)
			}
			if !jsonOutput {
				fmt.Println("Noted.")
			}
			return
		}

		history, err := meta.History(rootCtx, e.tracker, e.state)
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			emitJSON(history)
			return
		}
		if len(history) == 0 {
			fmt.Println("No session history yet.")
			return
		}
		gray := color.New(color.FgHiBlack).SprintFunc()
		for _, comment := range history {
			fmt.Printf("%s %s\n%s\n\n",
				gray(comment.CreatedAt.Format("2006-01-02 15:04")),
				gray(comment.Author),
				comment.Body)
		}
	},
}

func init() {
	logCmd.Flags().StringVar(&logNote, "note", "", "append a note to the session log instead of reading it")
	rootCmd.AddCommand(logCmd)
}
