// Command autocode manages an issue lifecycle with audit gating: work is
// claimed through an advisory file registry, completions carry evidence
// and enter an audit queue, and feature work pauses once enough unaudited
// completions pile up.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autocode-hq/autocode/internal/claims"
	"github.com/autocode-hq/autocode/internal/config"
	"github.com/autocode-hq/autocode/internal/lifecycle"
	"github.com/autocode-hq/autocode/internal/state"
	"github.com/autocode-hq/autocode/internal/tracker"
)

var (
	dirFlag     string
	actorFlag   string
	adapterFlag string
	jsonOutput  bool
	verboseFlag bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "autocode",
	Short: "autocode - issue lifecycle with audit gating",
	Long: `Coordinates agent work sessions against an issue tracker.

Issues move todo -> in_progress -> done under exclusive claims; every
completion carries evidence and the awaiting-audit label, and once enough
unaudited completions accumulate the next session must be an audit.`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "d", "", "project directory (default: walk up from cwd)")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "actor for tracker attribution (default: git user.name)")
	rootCmd.PersistentFlags().StringVar(&adapterFlag, "adapter", "", "tracker adapter: sqlite, beads, github, linear")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON output")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "verbose output")
}

// env is everything a subcommand needs, resolved once per invocation.
type env struct {
	dir        string
	cfg        *config.Config
	state      *state.ProjectState
	tracker    tracker.Tracker
	registry   *claims.Registry
	controller *lifecycle.Controller
	actor      string

	// keepClaims leaves the registry untouched on close, so a claim taken
	// by this invocation stays live after the process exits.
	keepClaims bool
}

// setup resolves the project directory, config, and state. With
// needTracker it also opens the adapter and a registered claim registry.
func setup(needTracker bool) (*env, error) {
	dir := dirFlag
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dir = claims.FindProjectDir(cwd)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if adapterFlag != "" {
		cfg.Adapter = adapterFlag
	}

	st, err := state.Load(dir)
	if err != nil {
		return nil, err
	}

	e := &env{
		dir:   dir,
		cfg:   cfg,
		state: st,
		actor: config.ResolveActor(actorFlag),
	}
	if !needTracker {
		return e, nil
	}

	tr, err := tracker.Open(rootCtx, &tracker.Config{
		Adapter:   tracker.Adapter(cfg.Adapter),
		Path:      cfg.DBPath,
		Workspace: dir,
		Owner:     cfg.Owner,
		Repo:      cfg.Repo,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}
	e.tracker = tr

	// One stable worker identity per host and actor: claims survive the
	// process, and a later invocation can renew or release them.
	workerID, err := claims.PersistentWorkerID(dir, e.actor)
	if err != nil {
		tr.Close()
		return nil, err
	}
	registry := claims.NewRegistryWithID(dir, workerID)
	if err := registry.Register(); err != nil {
		tr.Close()
		return nil, err
	}
	e.registry = registry
	e.controller = lifecycle.New(tr, registry, st, e.actor)
	return e, nil
}

// close releases the claim registry and the tracker. Commands that must
// leave a claim live past exit set keepClaims first.
func (e *env) close() {
	if e.registry != nil && !e.keepClaims {
		e.registry.Cleanup()
	}
	if e.tracker != nil {
		_ = e.tracker.Close()
	}
}

// fatal prints an error and exits. JSON mode keeps stdout machine-readable
// by wrapping the error.
func fatal(err error) {
	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(map[string]string{"error": err.Error()})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

// emitJSON writes v as indented JSON to stdout.
func emitJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
