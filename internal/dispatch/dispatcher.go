// Package dispatch turns one chat command into at most one automation run and one reply.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dwizi/lab-relay/internal/config"
	"github.com/dwizi/lab-relay/internal/connectors"
	"github.com/dwizi/lab-relay/internal/inventory"
	"github.com/dwizi/lab-relay/internal/playbook"
	"github.com/dwizi/lab-relay/internal/registry"
	"github.com/dwizi/lab-relay/internal/relayerr"
	"github.com/dwizi/lab-relay/internal/report"
	"github.com/dwizi/lab-relay/internal/runner"
)

const menuTitle = "WINDOWS LAB CONTROL"

type ProcessRunner interface {
	Run(ctx context.Context, inv runner.Invocation) runner.Result
}

type Notifier interface {
	Notify(ctx context.Context, text string)
}

type Options struct {
	Config   config.Config
	Registry *registry.Registry
	Runner   ProcessRunner
	// Replies receives the final answer for every request.
	Replies connectors.Publisher
	// Progress receives notices sent before long steps. Nil disables them.
	Progress connectors.Publisher
	Notifier Notifier
	Logger   *slog.Logger
}

type Dispatcher struct {
	cfg      config.Config
	registry *registry.Registry
	runner   ProcessRunner
	replies  connectors.Publisher
	progress connectors.Publisher
	notifier Notifier
	logger   *slog.Logger
}

func New(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("%w: command registry", relayerr.ErrConfigurationMissing)
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("%w: process runner", relayerr.ErrConfigurationMissing)
	}
	if opts.Replies == nil {
		return nil, fmt.Errorf("%w: reply publisher", relayerr.ErrConfigurationMissing)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:      opts.Config,
		registry: opts.Registry,
		runner:   opts.Runner,
		replies:  opts.Replies,
		progress: opts.Progress,
		notifier: opts.Notifier,
		logger:   logger.With("component", "dispatch"),
	}, nil
}

// Handle processes one request to a terminal state. It never panics and never returns
// an error: failures become replies.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (trace Trace) {
	trace.RequestID = uuid.NewString()
	trace.Command = commandToken(req.Text)
	trace.enter(StateReceived)
	logger := d.logger.With("request_id", trace.RequestID, "chat_id", req.ChatID, "command", trace.Command)

	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		logger.Error("command handling panicked", "panic", recovered)
		trace.Reason = fmt.Errorf("%w: %v", relayerr.ErrUnhandledDispatch, recovered)
		if !trace.Final().Terminal() {
			trace.enter(StateFaulted)
		}
		if !trace.replied {
			d.reply(ctx, logger, req.ChatID, &trace, report.InternalError())
		}
	}()

	if d.cfg.OperatorOnly && strings.TrimSpace(req.ChatID) != strings.TrimSpace(d.cfg.OperatorChatID) {
		logger.Warn("command rejected", "reason", "chat not authorized", "user_id", req.UserID)
		trace.Reason = relayerr.ErrNotAuthorized
		trace.enter(StateRejected)
		d.reply(ctx, logger, req.ChatID, &trace, report.NotAuthorized())
		return trace
	}

	entry, err := d.registry.Resolve(trace.Command)
	if err != nil {
		logger.Info("command rejected", "reason", err.Error())
		trace.Reason = err
		trace.enter(StateRejected)
		d.reply(ctx, logger, req.ChatID, &trace, report.UnknownCommand(trace.Command))
		return trace
	}
	trace.Command = entry.Name
	trace.enter(StateValidated)
	logger.Info("command accepted", "kind", entry.Kind.String(), "user_id", req.UserID)

	switch entry.Kind {
	case registry.KindMenu:
		d.reply(ctx, logger, req.ChatID, &trace, report.Menu(menuTitle, d.registry.Entries()))
		trace.enter(StateCompleted)
	case registry.KindStatus:
		d.handleStatus(ctx, logger, req, entry, &trace)
	case registry.KindPing:
		d.handlePing(ctx, logger, req, entry, &trace)
	case registry.KindPlaybook:
		d.handlePlaybook(ctx, logger, req, entry, &trace)
	default:
		panic(fmt.Sprintf("unsupported command kind %q", entry.Kind.String()))
	}
	logger.Info("command finished", "state", trace.Final().String(), "path", trace.Path())
	return trace
}

func (d *Dispatcher) handleStatus(ctx context.Context, logger *slog.Logger, req Request, entry registry.Entry, trace *Trace) {
	d.notice(ctx, logger, req.ChatID, "🔍 Scanning every PC in the lab...\n⏳ This may take a moment.")

	inv, err := inventory.Load(d.registry.InventoryPath())
	if err != nil {
		d.fault(ctx, logger, req, entry, trace, runner.Result{Outcome: runner.OutcomeFault, Err: err}, entry.Timeout)
		return
	}
	hosts := inv.Hosts(entry.TargetGroup)
	trace.enter(StateExecuting)

	started := time.Now()
	states := make([]report.HostState, len(hosts))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(d.cfg.StatusConcurrency, 1))
	for i, host := range hosts {
		group.Go(func() error {
			states[i] = d.probeHost(groupCtx, host, entry)
			return nil
		})
	}
	_ = group.Wait()
	elapsed := time.Since(started)

	online := 0
	for _, state := range states {
		if state.Online {
			online++
		}
	}
	d.reply(ctx, logger, req.ChatID, trace, report.Status(report.StatusInput{
		Title:        "REAL-TIME LAB STATUS",
		Group:        entry.TargetGroup,
		Hosts:        states,
		Elapsed:      elapsed,
		QuickActions: d.quickActions(entry.Name),
	}))
	trace.enter(StateCompleted)
	d.notify(ctx, report.StatusNotification(entry.Name, online, len(hosts), elapsed))
}

// probeHost maps one host probe to its displayed state. A timed out or faulted probe
// marks only that host offline.
func (d *Dispatcher) probeHost(ctx context.Context, host inventory.Host, entry registry.Entry) report.HostState {
	state := report.HostState{Name: host.Name, Address: host.Address}
	if state.Address == "" {
		state.Address = "N/A"
	}
	result := d.runner.Run(ctx, runner.Invocation{
		Argv:    runner.PingArgv(d.cfg.AnsibleBinary, host.Name, d.registry.InventoryPath(), d.cfg.PingModule, false),
		Dir:     d.registry.ProjectPath(),
		Timeout: d.cfg.HostProbeTimeout(),
	})
	switch result.Outcome {
	case runner.OutcomeExited:
		state.Online = result.ExitCode == 0
	case runner.OutcomeTimedOut:
		state.Note = "Timeout"
	default:
		state.Note = "Error"
	}
	return state
}

func (d *Dispatcher) handlePing(ctx context.Context, logger *slog.Logger, req Request, entry registry.Entry, trace *Trace) {
	d.notice(ctx, logger, req.ChatID, "🔄 Testing connectivity to the Windows PCs...")
	trace.enter(StateExecuting)
	result := d.runner.Run(ctx, d.pingInvocation(entry.TargetGroup, entry.Timeout))
	if result.Outcome != runner.OutcomeExited {
		d.fault(ctx, logger, req, entry, trace, result, entry.Timeout)
		return
	}
	status := runner.Classify(result.ExitCode, true)
	d.reply(ctx, logger, req.ChatID, trace, report.Ping(report.PingInput{
		Title:  "WINDOWS PING TEST",
		Result: result,
		Status: status,
	}))
	trace.enter(StateCompleted)
	d.notify(ctx, report.Notification(entry.Name, status, result))
}

func (d *Dispatcher) handlePlaybook(ctx context.Context, logger *slog.Logger, req Request, entry registry.Entry, trace *Trace) {
	if _, err := os.Stat(entry.PlaybookPath); err != nil {
		logger.Error("playbook file unavailable", "playbook", entry.PlaybookPath, "error", err)
		trace.Reason = fmt.Errorf("%w: playbook %s", relayerr.ErrConfigurationMissing, entry.PlaybookPath)
		trace.enter(StateRejected)
		d.reply(ctx, logger, req.ChatID, trace, report.Fault(title(entry), trace.Reason))
		return
	}

	d.notice(ctx, logger, req.ChatID, "🌐 Checking which PCs are online...")
	probeTimeout := d.cfg.ProbeTimeout()
	probe := d.runner.Run(ctx, d.pingInvocation(entry.TargetGroup, probeTimeout))
	if probe.Outcome != runner.OutcomeExited {
		d.fault(ctx, logger, req, entry, trace, probe, probeTimeout)
		return
	}
	var targets []string
	if runner.Classify(probe.ExitCode, true) != runner.StatusFailure {
		targets = report.ParsePing(probe.Stdout).Online
	}
	if len(targets) == 0 {
		logger.Warn("command rejected", "reason", "no reachable targets", "group", entry.TargetGroup)
		trace.Reason = fmt.Errorf("%w: %s", relayerr.ErrNoReachableTargets, entry.TargetGroup)
		trace.enter(StateRejected)
		d.reply(ctx, logger, req.ChatID, trace, report.NoReachableTargets(entry.TargetGroup))
		return
	}

	items := d.playbookItems(logger, entry.PlaybookPath)
	d.notice(ctx, logger, req.ChatID, startNotice(targets, items))

	trace.enter(StateExecuting)
	result := d.runner.Run(ctx, runner.Invocation{
		Argv: runner.PlaybookArgv(
			d.cfg.AnsiblePlaybookBinary,
			entry.PlaybookPath,
			d.registry.InventoryPath(),
			targets,
			entry.Become,
			d.cfg.BecomePassword,
		),
		Dir:     d.registry.ProjectPath(),
		Timeout: entry.Timeout,
		Secrets: []string{d.cfg.BecomePassword},
	})
	if result.Outcome != runner.OutcomeExited {
		d.fault(ctx, logger, req, entry, trace, result, entry.Timeout)
		return
	}
	status := runner.Classify(result.ExitCode, true)
	d.reply(ctx, logger, req.ChatID, trace, report.Playbook(report.PlaybookInput{
		Title:   title(entry) + " RESULT",
		Result:  result,
		Status:  status,
		Targets: targets,
		Items:   items,
	}))
	trace.enter(StateCompleted)
	d.notify(ctx, report.Notification(entry.Name, status, result))
}

// fault answers a run that did not exit. limit is the timeout the failed step ran under.
func (d *Dispatcher) fault(ctx context.Context, logger *slog.Logger, req Request, entry registry.Entry, trace *Trace, result runner.Result, limit time.Duration) {
	var message string
	if result.Outcome == runner.OutcomeTimedOut {
		trace.Reason = fmt.Errorf("%w: %s after %s", relayerr.ErrProcessTimeout, entry.Name, limit)
		message = report.Timeout(title(entry), entry.Kind, limit)
	} else {
		trace.Reason = fmt.Errorf("%w: %w", relayerr.ErrProcessFailure, faultCause(result.Err))
		message = report.Fault(title(entry), result.Err)
	}
	logger.Error("command faulted", "outcome", result.Outcome.String(), "error", trace.Reason)
	trace.enter(StateFaulted)
	d.reply(ctx, logger, req.ChatID, trace, message)
	d.notify(ctx, report.FaultNotification(entry.Name, result))
}

func (d *Dispatcher) pingInvocation(group string, timeout time.Duration) runner.Invocation {
	return runner.Invocation{
		Argv:    runner.PingArgv(d.cfg.AnsibleBinary, group, d.registry.InventoryPath(), d.cfg.PingModule, true),
		Dir:     d.registry.ProjectPath(),
		Timeout: timeout,
	}
}

func (d *Dispatcher) playbookItems(logger *slog.Logger, path string) []string {
	book, err := playbook.Load(path)
	if err != nil {
		logger.Warn("playbook inspection failed", "playbook", path, "error", err)
		return nil
	}
	return book.InstallItems()
}

func (d *Dispatcher) quickActions(exclude string) []registry.Entry {
	var actions []registry.Entry
	for _, entry := range d.registry.Entries() {
		if entry.Name == exclude || entry.Kind == registry.KindStatus {
			continue
		}
		actions = append(actions, entry)
	}
	return actions
}

// reply sends the final answer. A request is answered at most once, even when the
// publish fails.
func (d *Dispatcher) reply(ctx context.Context, logger *slog.Logger, chatID string, trace *Trace, text string) {
	trace.replied = true
	if err := d.replies.Publish(ctx, chatID, text); err != nil {
		logger.Error("reply failed", "error", err)
	}
}

func (d *Dispatcher) notice(ctx context.Context, logger *slog.Logger, chatID, text string) {
	if d.progress == nil {
		return
	}
	if err := d.progress.Publish(ctx, chatID, text); err != nil {
		logger.Warn("progress notice failed", "error", err)
	}
}

func (d *Dispatcher) notify(ctx context.Context, text string) {
	if d.notifier == nil {
		return
	}
	d.notifier.Notify(ctx, text)
}

func startNotice(targets, items []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚀 Starting on %d PC...\n", len(targets))
	if len(items) > 0 {
		b.WriteString("📦 Software: ")
		b.WriteString(report.EscapeMarkdown(strings.Join(items, ", ")))
		b.WriteString("\n")
	}
	b.WriteString("⏳ This may take 10-20 minutes.")
	return b.String()
}

func title(entry registry.Entry) string {
	return strings.ToUpper(strings.ReplaceAll(entry.Name, "_", " "))
}

func faultCause(err error) error {
	if err == nil {
		return errors.New("process did not exit")
	}
	return err
}

// commandToken returns the first word of a message, the part naming the command.
func commandToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
