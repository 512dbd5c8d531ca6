// Package main defines the CLI structure using kong.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/nats-io/nats.go"

	"github.com/stewardworks/steward/internal/archive"
	"github.com/stewardworks/steward/internal/confirm"
	"github.com/stewardworks/steward/internal/events"
	"github.com/stewardworks/steward/internal/replay"
	"github.com/stewardworks/steward/internal/session"
	"github.com/stewardworks/steward/internal/setup"
)

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Run a task to completion"`
	Resolve ResolveCmd `cmd:"" help:"Answer a pending confirmation"`
	Pending PendingCmd `cmd:"" help:"List unresolved confirmations"`
	Replay  ReplayCmd  `cmd:"" help:"Replay a recorded run"`
	History HistoryCmd `cmd:"" help:"List archived run reports"`
	Init    InitCmd    `cmd:"" help:"Interactive setup wizard"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// RunCmd runs one task to a terminal state.
type RunCmd struct {
	Goal        string `arg:"" optional:"" help:"Goal to pursue"`
	File        string `short:"f" help:"Taskfile path"`
	Config      string `help:"Config file path"`
	Workspace   string `help:"Workspace directory"`
	Interactive bool   `short:"i" help:"Live console; answer confirmations with y/n"`
	MaxSteps    int    `help:"Step budget override"`
}

// ResolveCmd answers a confirmation from outside the run process.
type ResolveCmd struct {
	ID      string `arg:"" help:"Confirmation ID (from pending or the run output)"`
	Approve bool   `xor:"answer" required:"" help:"Approve the action"`
	Deny    bool   `xor:"answer" required:"" help:"Deny the action"`
	Note    string `help:"Note recorded with the answer"`
	Config  string `help:"Config file path"`
}

// PendingCmd lists confirmations still awaiting an answer.
type PendingCmd struct {
	Config string `help:"Config file path"`
}

// ReplayCmd renders a recorded transcript.
type ReplayCmd struct {
	Session string `arg:"" help:"Task ID, ID prefix, or transcript path"`
	Verbose int    `short:"v" type:"counter" help:"Verbosity level (-v, -vv)"`
	NoPager bool   `help:"Disable pager for output"`
	NoColor bool   `help:"Disable styling"`
	Follow  bool   `help:"Keep the view updating while the run is still writing"`
	Stats   bool   `help:"Print timeline statistics instead of the timeline"`
	Config  string `help:"Config file path"`
}

// HistoryCmd lists archived reports, newest first.
type HistoryCmd struct {
	Limit  int    `default:"20" help:"How many reports to list"`
	Config string `help:"Config file path"`
}

// InitCmd runs the interactive setup wizard.
type InitCmd struct{}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}

func (c *ResolveCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	if err := confirm.WriteAnswer(cfg.AnswersDir(), c.ID, c.Approve, c.Note); err != nil {
		return err
	}
	// Reach runs on other hosts too, when an event broker is
	// configured.
	if url := cfg.Events.NATSURL; url != "" {
		if nc, err := nats.Connect(url, nats.Name("steward-resolve")); err == nil {
			nc.Publish(events.SubjectResolve, events.AnswerData(c.ID, c.Approve, c.Note))
			nc.Flush()
			nc.Close()
		} else {
			fmt.Fprintf(os.Stderr, "warning: nats unreachable, answer written locally only: %v\n", err)
		}
	}
	verdict := "denied"
	if c.Approve {
		verdict = "approved"
	}
	fmt.Printf("%s %s\n", c.ID, verdict)
	return nil
}

func (c *PendingCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	cards, err := confirm.ListCards(cfg.Storage.RequestsDir())
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		fmt.Println("no pending confirmations")
		return nil
	}
	for _, card := range cards {
		age := time.Since(card.RequestedAt).Round(time.Second)
		fmt.Printf("%s  task %s  %s  (%s ago)\n    %s\n", card.ID, card.TaskID, card.Tool, age, card.Prompt)
	}
	return nil
}

func (c *ReplayCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	path := c.Session
	if _, statErr := os.Stat(path); statErr != nil {
		path, err = session.Find(cfg.Storage.SessionsDir(), c.Session)
		if err != nil {
			return err
		}
	}

	if c.NoColor {
		// lipgloss honors the no-color.org convention at profile
		// detection, before anything renders.
		os.Setenv("NO_COLOR", "1")
	}

	if c.Stats {
		tr, err := session.Load(path)
		if err != nil {
			return err
		}
		replay.PrintStats(os.Stdout, replay.ComputeStats(tr))
		return nil
	}

	r := replay.New(os.Stdout, c.Verbose)
	if !c.NoPager && isTerminal(os.Stdout) {
		if c.Follow {
			return r.ReplayFileLive(path)
		}
		return r.ReplayFileInteractive(path)
	}
	return r.ReplayFile(path)
}

func (c *HistoryCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	store, err := archive.NewStore(cfg.Storage.ArchiveDir())
	if err != nil {
		return err
	}
	reports, err := store.List()
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Println("no archived runs")
		return nil
	}
	if c.Limit > 0 && len(reports) > c.Limit {
		reports = reports[:c.Limit]
	}
	for _, r := range reports {
		line := fmt.Sprintf("%s  %-9s  %2d steps  %s",
			r.FinishedAt.Format("2006-01-02 15:04"), r.Status, r.StepCount, r.TaskID)
		fmt.Println(line)
		fmt.Printf("    %s\n", r.Goal)
	}
	return nil
}

func (c *InitCmd) Run() error {
	return setup.Run()
}

func (c *VersionCmd) Run() error {
	fmt.Printf("steward version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
