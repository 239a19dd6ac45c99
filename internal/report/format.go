package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/dwizi/lab-relay/internal/registry"
	"github.com/dwizi/lab-relay/internal/runner"
)

const (
	SuccessMarker = "✅"
	PartialMarker = "⚠️"
	FailureMarker = "❌"
	TimeoutMarker = "⏰"

	separator = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"
)

func seconds(elapsed time.Duration) string {
	return fmt.Sprintf("%.1fs", elapsed.Seconds())
}

func finish(builder *strings.Builder) string {
	return Truncate(strings.TrimRight(builder.String(), "\n"), MessageBudget)
}

// Menu lists every registered command.
func Menu(title string, entries []registry.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 *%s*\n\n", EscapeMarkdown(title))
	b.WriteString("📋 *AVAILABLE COMMANDS:*\n")
	for _, entry := range entries {
		description := entry.Description
		if description == "" {
			description = entry.Kind.String()
		}
		fmt.Fprintf(&b, "/%s - %s\n", EscapeMarkdown(entry.Name), EscapeMarkdown(description))
	}
	b.WriteString("\n💡 Commands run against the lab PCs listed in the inventory.")
	return finish(&b)
}

type PingInput struct {
	Title  string
	Result runner.Result
	Status runner.Status
}

// Ping formats a group connectivity probe.
func Ping(in PingInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📡 *%s*\n", EscapeMarkdown(in.Title))
	fmt.Fprintf(&b, "⏱️ Time: %s\n\n", seconds(in.Result.Elapsed))

	summary := ParsePing(in.Result.Stdout)
	switch in.Status {
	case runner.StatusSuccess, runner.StatusPartial:
		if summary.Empty() {
			if in.Status == runner.StatusSuccess {
				fmt.Fprintf(&b, "%s *PROBE FINISHED*\n\n", SuccessMarker)
			} else {
				fmt.Fprintf(&b, "%s *SOME PCS DID NOT ANSWER*\n\n", PartialMarker)
			}
			b.WriteString(codeBlock(Tail(in.Result.Stdout, OutputBudget)))
			b.WriteString("\n")
			return finish(&b)
		}
		if in.Status == runner.StatusSuccess && len(summary.Offline) == 0 {
			fmt.Fprintf(&b, "%s *ALL PCS ONLINE*\n\n", SuccessMarker)
		} else {
			fmt.Fprintf(&b, "%s *SOME PCS UNREACHABLE*\n\n", PartialMarker)
		}
		fmt.Fprintf(&b, "🟢 *ONLINE:* %d PC\n", len(summary.Online))
		for _, host := range summary.Online {
			fmt.Fprintf(&b, "   • %s\n", EscapeMarkdown(host))
		}
		if len(summary.Offline) > 0 {
			fmt.Fprintf(&b, "\n🔴 *OFFLINE:* %d PC\n", len(summary.Offline))
			for _, host := range summary.Offline {
				fmt.Fprintf(&b, "   • %s\n", EscapeMarkdown(host))
			}
			b.WriteString("\n💡 Some PCs may be offline or still booting.\n")
		}
		fmt.Fprintf(&b, "\n📊 Total: %d PC\n", summary.Total())
	default:
		fmt.Fprintf(&b, "%s *PING TEST FAILED*\n", FailureMarker)
		fmt.Fprintf(&b, "Exit code: %s\n\n", inlineCode(fmt.Sprint(in.Result.ExitCode)))
		writeOutputExcerpt(&b, in.Result)
		b.WriteString("💡 *Next steps:*\n")
		b.WriteString("• Check the inventory file\n")
		b.WriteString("• Make sure some PCs are powered on\n")
		b.WriteString("• Check the network connection\n")
	}
	return finish(&b)
}

type HostState struct {
	Name    string
	Address string
	Online  bool
	// Note explains an offline state, e.g. "Timeout" or "Error".
	Note string
}

type StatusInput struct {
	Title        string
	Group        string
	Hosts        []HostState
	Elapsed      time.Duration
	QuickActions []registry.Entry
}

// Status formats the per-host inventory scan.
func Status(in StatusInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🖥️ *%s*\n%s\n\n", EscapeMarkdown(in.Title), separator)
	if len(in.Hosts) == 0 {
		fmt.Fprintf(&b, "%s *No PCs found in inventory group %s!*\n\n", FailureMarker, EscapeMarkdown(in.Group))
	} else {
		fmt.Fprintf(&b, "📋 *IN INVENTORY:* %d PC\n\n", len(in.Hosts))
		online := 0
		for _, host := range in.Hosts {
			icon := "🔴"
			if host.Online {
				icon = "🟢"
				online++
			}
			name := EscapeMarkdown(host.Name)
			if !host.Online && host.Note != "" {
				name += " (" + EscapeMarkdown(host.Note) + ")"
			}
			fmt.Fprintf(&b, "%s %s\n   📡 %s\n\n", icon, name, inlineCode(host.Address))
		}
		fmt.Fprintf(&b, "%s\n*📊 REAL-TIME STATUS:*\n", separator)
		fmt.Fprintf(&b, "🟢 Online: `%d` PC\n", online)
		fmt.Fprintf(&b, "🔴 Offline: `%d` PC\n", len(in.Hosts)-online)
		fmt.Fprintf(&b, "📟 Total: `%d` PC\n", len(in.Hosts))
		fmt.Fprintf(&b, "⏱️ Scan time: %s\n\n", seconds(in.Elapsed))
	}
	if len(in.QuickActions) > 0 {
		b.WriteString("*🚀 QUICK ACTIONS:*\n")
		for _, entry := range in.QuickActions {
			fmt.Fprintf(&b, "/%s - %s\n", EscapeMarkdown(entry.Name), EscapeMarkdown(entry.Description))
		}
	}
	return finish(&b)
}

type PlaybookInput struct {
	Title   string
	Result  runner.Result
	Status  runner.Status
	Targets []string
	// Items are the subjects of the playbook's "Install <item>" tasks.
	Items []string
}

// Playbook formats a mutating playbook run. Summary markers (PLAY RECAP and task
// lines) are preferred over raw output; without them the tail of the output is shown.
func Playbook(in PlaybookInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📦 *%s*\n%s\n\n", EscapeMarkdown(in.Title), separator)
	fmt.Fprintf(&b, "⏱️ Time: %s\n", seconds(in.Result.Elapsed))
	fmt.Fprintf(&b, "🖥️ Target PCs: %d\n\n", len(in.Targets))

	recaps := ParseRecap(in.Result.Stdout)
	tasks := ParseTasks(in.Result.Stdout)
	items := MatchItems(in.Items, tasks)

	switch in.Status {
	case runner.StatusSuccess:
		fmt.Fprintf(&b, "%s *PLAYBOOK COMPLETED ON ALL TARGETS!*\n\n", SuccessMarker)
		if len(in.Items) > 0 {
			b.WriteString("📋 Installed:\n")
			for _, item := range in.Items {
				fmt.Fprintf(&b, "• %s\n", EscapeMarkdown(item))
			}
			b.WriteString("\n")
		}
		if len(recaps) > 0 {
			b.WriteString("*Per-host summary:*\n")
			for _, recap := range recaps {
				fmt.Fprintf(&b, "🟢 %s: ok=%d changed=%d\n", EscapeMarkdown(recap.Host), recap.OK, recap.Changed)
			}
		} else {
			b.WriteString(codeBlock(Tail(in.Result.Stdout, OutputBudget)))
			b.WriteString("\n")
		}
	case runner.StatusPartial:
		fmt.Fprintf(&b, "%s *PLAYBOOK PARTIALLY SUCCEEDED*\n\n", PartialMarker)
		if !writePartialSummary(&b, recaps, items) {
			b.WriteString(codeBlock(Tail(in.Result.Stdout, OutputBudget)))
			b.WriteString("\n")
		}
		b.WriteString("\n💡 *New PCs may need:*\n")
		b.WriteString("- Chocolatey installed manually\n")
		b.WriteString("- A restart after installation\n")
		b.WriteString("- A stable internet connection\n")
	default:
		fmt.Fprintf(&b, "%s *PLAYBOOK FAILED!*\n\n", FailureMarker)
		fmt.Fprintf(&b, "Exit code: %s\n\n", inlineCode(fmt.Sprint(in.Result.ExitCode)))
		if len(recaps) > 0 {
			writeRecapLines(&b, recaps)
			b.WriteString("\n")
		}
		writeOutputExcerpt(&b, in.Result)
		if mentionsChocolatey(in.Result) {
			b.WriteString("🍫 *Chocolatey may be missing on the target PCs!*\n")
			b.WriteString("1. Run the playbook again, it bootstraps Chocolatey first\n")
			b.WriteString("2. Make sure the PCs are online and connected to the internet\n\n")
		} else {
			b.WriteString("🔧 *Possible causes:*\n- No internet connection\n- Permission issues\n\n")
		}
		b.WriteString("💡 *General fixes:*\n")
		b.WriteString("1. Run setup\\_chocolatey.ps1 manually on new PCs\n")
		b.WriteString("2. Check the internet connection\n")
		b.WriteString("3. Run as Administrator\n")
	}
	return finish(&b)
}

func writePartialSummary(b *strings.Builder, recaps []HostRecap, items []ItemOutcome) bool {
	wrote := false
	var succeededItems, failedItems []string
	for _, item := range items {
		switch {
		case item.Failed:
			failedItems = append(failedItems, item.Item)
		case item.Succeeded:
			succeededItems = append(succeededItems, item.Item)
		}
	}
	if len(succeededItems) > 0 {
		b.WriteString(SuccessMarker + " *Succeeded:*\n")
		for _, item := range succeededItems {
			fmt.Fprintf(b, "• %s\n", EscapeMarkdown(item))
		}
		wrote = true
	}
	if len(failedItems) > 0 {
		b.WriteString("\n" + FailureMarker + " *Failed:*\n")
		for _, item := range failedItems {
			fmt.Fprintf(b, "• %s\n", EscapeMarkdown(item))
		}
		wrote = true
	}
	if len(recaps) > 0 {
		if wrote {
			b.WriteString("\n")
		}
		writeRecapLines(b, recaps)
		wrote = true
	}
	return wrote
}

func writeRecapLines(b *strings.Builder, recaps []HostRecap) {
	var succeeded, failed []HostRecap
	for _, recap := range recaps {
		if recap.Succeeded() {
			succeeded = append(succeeded, recap)
		} else {
			failed = append(failed, recap)
		}
	}
	if len(succeeded) > 0 {
		fmt.Fprintf(b, "🟢 *Succeeded hosts:* %d\n", len(succeeded))
		for _, recap := range succeeded {
			fmt.Fprintf(b, "• %s (ok=%d changed=%d)\n", EscapeMarkdown(recap.Host), recap.OK, recap.Changed)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(b, "🔴 *Failed or unreachable hosts:* %d\n", len(failed))
		for _, recap := range failed {
			fmt.Fprintf(b, "• %s (failed=%d unreachable=%d)\n", EscapeMarkdown(recap.Host), recap.Failed, recap.Unreachable)
		}
	}
}

func writeOutputExcerpt(b *strings.Builder, result runner.Result) {
	excerpt := strings.TrimSpace(result.Stderr)
	label := "stderr"
	if excerpt == "" {
		excerpt = strings.TrimSpace(result.Stdout)
		label = "output"
	}
	if excerpt == "" {
		return
	}
	fmt.Fprintf(b, "*Last %s lines:*\n%s\n\n", label, codeBlock(Tail(excerpt, OutputBudget/2)))
}

func mentionsChocolatey(result runner.Result) bool {
	combined := strings.ToLower(result.Stderr + "\n" + result.Stdout)
	return strings.Contains(combined, "choco")
}

// Timeout is the reply for a run that exceeded its time budget.
func Timeout(title string, kind registry.Kind, timeout time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *Timeout: %s took longer than %s*\n\n", TimeoutMarker, EscapeMarkdown(title), timeout.String())
	switch kind {
	case registry.KindPlaybook:
		b.WriteString("Installing Chocolatey on new PCs can take longer than usual.\n")
		b.WriteString("💡 Run /lab\\_status to see which PCs are still online, then try again.")
	default:
		b.WriteString("Some PCs may still be booting or offline.\n")
		b.WriteString("💡 Check connectivity and try again in a moment.")
	}
	return finish(&b)
}

// Fault is the reply for a run that could not be started or was interrupted.
func Fault(title string, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *Error while running %s*\n\n", FailureMarker, EscapeMarkdown(title))
	if err != nil {
		fmt.Fprintf(&b, "%s\n\n", inlineCode(Truncate(err.Error(), 300)))
	}
	b.WriteString("💡 Check the inventory file and the network connection.")
	return finish(&b)
}

func UnknownCommand(command string) string {
	return fmt.Sprintf("%s Unknown command %s.\n\n💡 Send /start to see the available commands.", FailureMarker, inlineCode(command))
}

func NoReachableTargets(group string) string {
	return fmt.Sprintf("%s *No PCs are online!*\n\nNo host in %s answered the connectivity check, nothing was changed.\n💡 Run /windows\\_ping or /lab\\_status to check connectivity.", FailureMarker, inlineCode(group))
}

func NotAuthorized() string {
	return "⛔ This chat is not allowed to run lab commands."
}

// InternalError is the generic reply for an unexpected failure while handling a command.
func InternalError() string {
	return FailureMarker + " *A temporary error occurred*\n\n" +
		"💡 *Try:*\n" +
		"• Some PCs may be offline\n" +
		"• Try again in 30 seconds\n" +
		"• Use /lab\\_status to check connectivity\n" +
		"• Make sure the network is stable"
}

// Notification is the one-line operator summary for a finished run.
func Notification(commandName string, status runner.Status, result runner.Result) string {
	label := strings.ToUpper(strings.TrimSpace(commandName))
	switch status {
	case runner.StatusSuccess:
		return fmt.Sprintf("%s %s SUCCESS - %s", SuccessMarker, label, seconds(result.Elapsed))
	case runner.StatusPartial:
		return fmt.Sprintf("%s %s PARTIAL - code %d - %s", PartialMarker, label, result.ExitCode, seconds(result.Elapsed))
	default:
		return fmt.Sprintf("%s %s ISSUES - code %d - %s", FailureMarker, label, result.ExitCode, seconds(result.Elapsed))
	}
}

// FaultNotification is the operator summary for a timed-out or faulted run.
func FaultNotification(commandName string, result runner.Result) string {
	label := strings.ToUpper(strings.TrimSpace(commandName))
	if result.Outcome == runner.OutcomeTimedOut {
		return fmt.Sprintf("%s %s TIMEOUT after %s", TimeoutMarker, label, seconds(result.Elapsed))
	}
	detail := "unknown error"
	if result.Err != nil {
		detail = Truncate(result.Err.Error(), 200)
	}
	return fmt.Sprintf("%s %s ERROR: %s", FailureMarker, label, detail)
}

// StatusNotification summarizes a per-host scan for the operator.
func StatusNotification(commandName string, online, total int, elapsed time.Duration) string {
	label := strings.ToUpper(strings.TrimSpace(commandName))
	marker := SuccessMarker
	switch {
	case total == 0 || online == 0:
		marker = FailureMarker
	case online < total:
		marker = PartialMarker
	}
	return fmt.Sprintf("%s %s %d/%d online - %s", marker, label, online, total, seconds(elapsed))
}
