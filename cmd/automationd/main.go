// automationd runs the automation engine against a rule catalog, and offers
// offline validation and execution history queries.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	automation "github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/action"
	"github.com/goliatone/go-automation/engine"
	"github.com/goliatone/go-automation/registry"
	"github.com/goliatone/go-automation/store"
	"github.com/goliatone/go-logger/glog"
)

var cli struct {
	LogLevel string `help:"Log level (trace, debug, info, warn, error)." default:"info"`
	JSON     bool   `help:"Emit JSON logs."`

	Validate ValidateCmd `cmd:"" help:"Parse and validate a rule document."`
	Run      RunCmd      `cmd:"" help:"Run the engine with stub handlers."`
	History  HistoryCmd  `cmd:"" help:"Query executions from a store."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("automationd"),
		kong.Description("Automation rule engine for trigger/condition/action workflows."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(newLogger()))
}

func newLogger() automation.Logger {
	if cli.JSON {
		return glogAdapter{logger: glog.NewLogger(
			glog.WithLevel(cli.LogLevel),
			glog.WithLoggerTypeJSON(),
		)}
	}
	return glogAdapter{logger: glog.NewLogger(glog.WithLevel(cli.LogLevel))}
}

// glogAdapter bridges the go-logger base logger onto the engine's Logger
// contract.
type glogAdapter struct {
	logger glog.Logger
}

func (l glogAdapter) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l glogAdapter) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogAdapter) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogAdapter) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogAdapter) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l glogAdapter) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

// ValidateCmd parses a rule document and reports per-rule load errors.
type ValidateCmd struct {
	Rules string `arg:"" help:"Path to the rule document (YAML or JSON)." type:"existingfile"`
}

func (c *ValidateCmd) Run(logger automation.Logger) error {
	data, err := os.ReadFile(c.Rules)
	if err != nil {
		return err
	}
	doc, err := registry.ParseDocument(data)
	if err != nil {
		return err
	}
	set, rejected := registry.BuildSet(doc, nil)
	for _, rule := range set.Rules() {
		fmt.Printf("ok    %-24s trigger=%s actions=%d timeout=%s\n",
			rule.Name, rule.Trigger, len(rule.Actions), rule.Timeout)
	}
	for _, rej := range rejected {
		fmt.Printf("fail  %-24s %v\n", rej.Name, rej.Err)
	}
	if len(rejected) > 0 {
		return fmt.Errorf("%d of %d rules rejected", len(rejected), len(doc.Rules))
	}
	logger.Info("rule document valid: rules=%d", set.Len())
	return nil
}

// RunCmd runs the engine with logging stub handlers for every action id the
// document references. Useful for exercising a catalog before real handlers
// exist.
type RunCmd struct {
	Rules        string        `arg:"" help:"Path to the rule document." type:"existingfile"`
	DB           string        `help:"SQLite store path; in-memory store when empty."`
	Workers      int           `help:"Executor pool size." default:"4"`
	PollInterval time.Duration `help:"Store polling cadence." default:"250ms"`
	FailActions  []string      `help:"Action ids whose stub handler always fails."`
}

func (c *RunCmd) Run(logger automation.Logger) error {
	data, err := os.ReadFile(c.Rules)
	if err != nil {
		return err
	}
	doc, err := registry.ParseDocument(data)
	if err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithWorkers(c.Workers),
		engine.WithPollInterval(c.PollInterval),
	}
	if c.DB != "" {
		st, err := store.OpenSQLite(c.DB)
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, engine.WithStore(st))
	}
	eng := engine.New(opts...)

	failing := make(map[string]bool, len(c.FailActions))
	for _, id := range c.FailActions {
		failing[strings.TrimSpace(id)] = true
	}
	if err := registerStubs(eng.Actions(), doc, failing, logger); err != nil {
		return err
	}

	rejected, err := eng.LoadRules(data)
	if err != nil {
		return err
	}
	for _, rej := range rejected {
		logger.Warn("rule rejected: rule=%s err=%v", rej.Name, rej.Err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return eng.Stop(shutdownCtx)
}

func registerStubs(actions *action.Registry, doc registry.Document, failing map[string]bool, logger automation.Logger) error {
	seen := make(map[string]bool)
	for _, cfg := range doc.Rules {
		for _, id := range cfg.Definition().ActionIDs() {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			actionID := id
			handler := func(ctx context.Context, inv action.Invocation) error {
				if failing[actionID] {
					return fmt.Errorf("stub failure for %s", actionID)
				}
				logger.Info("stub action: action=%s rule=%s correlation=%s attempt=%d",
					actionID, inv.Rule, inv.CorrelationID, inv.Attempt)
				return nil
			}
			if err := actions.RegisterFunc(actionID, handler); err != nil {
				return err
			}
		}
	}
	return nil
}

// HistoryCmd lists executions from a SQLite store, either every run of one
// (rule, correlation id) pair or all rows in a status.
type HistoryCmd struct {
	DB            string `arg:"" help:"SQLite store path." type:"existingfile"`
	Rule          string `help:"Rule name to audit."`
	CorrelationID string `help:"Correlation id to audit."`
	Status        string `help:"List executions in this status instead."`
	Limit         int    `help:"Maximum rows for status listings." default:"50"`
}

func (c *HistoryCmd) Run(logger automation.Logger) error {
	st, err := store.OpenSQLite(c.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	var execs []*automation.Execution
	switch {
	case c.Rule != "" && c.CorrelationID != "":
		execs, err = st.History(ctx, c.Rule, c.CorrelationID)
	case c.Status != "":
		execs, err = st.ListByStatus(ctx, automation.Status(c.Status), c.Limit)
	default:
		return fmt.Errorf("either --rule with --correlation-id, or --status is required")
	}
	if err != nil {
		return err
	}

	for _, exec := range execs {
		fmt.Printf("%s  %-10s rule=%s correlation=%s cursor=%d attempts=%d created=%s\n",
			exec.ID, exec.Status, exec.Rule, exec.CorrelationID,
			exec.ActionCursor, len(exec.History), exec.CreatedAt.Format(time.RFC3339))
		for _, outcome := range exec.History {
			line := fmt.Sprintf("    action=%d attempt=%d result=%s", outcome.ActionIndex, outcome.Attempt, outcome.Result)
			if outcome.Error != "" {
				line += " err=" + outcome.Error
			}
			fmt.Println(line)
		}
	}
	if len(execs) == 0 {
		logger.Info("no executions matched")
	}
	return nil
}
