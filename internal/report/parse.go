package report

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type PingSummary struct {
	Online  []string
	Offline []string
}

func (p PingSummary) Total() int {
	return len(p.Online) + len(p.Offline)
}

func (p PingSummary) Empty() bool {
	return p.Total() == 0
}

// ParsePing reads ansible ad-hoc output in --one-line or default form:
// "pc01 | SUCCESS => {...}", "pc02 | UNREACHABLE! => {...}", "pc03 | FAILED! => {...}".
func ParsePing(stdout string) PingSummary {
	online := map[string]struct{}{}
	offline := map[string]struct{}{}
	for _, line := range strings.Split(stdout, "\n") {
		host, rest, found := strings.Cut(line, "|")
		if !found {
			continue
		}
		host = strings.TrimSpace(host)
		if host == "" || strings.ContainsAny(host, " \t") {
			continue
		}
		status := strings.TrimSpace(rest)
		switch {
		case strings.HasPrefix(status, "SUCCESS"), strings.HasPrefix(status, "CHANGED"):
			online[host] = struct{}{}
		case strings.HasPrefix(status, "UNREACHABLE"), strings.HasPrefix(status, "FAILED"):
			offline[host] = struct{}{}
		}
	}
	for host := range online {
		delete(offline, host)
	}
	return PingSummary{Online: sortedKeys(online), Offline: sortedKeys(offline)}
}

type HostRecap struct {
	Host        string
	OK          int
	Changed     int
	Unreachable int
	Failed      int
	Skipped     int
	Rescued     int
	Ignored     int
}

func (h HostRecap) Succeeded() bool {
	return h.Unreachable == 0 && h.Failed == 0
}

var recapLine = regexp.MustCompile(`^(\S+)\s*:\s*(ok=\d+.*)$`)
var recapCounter = regexp.MustCompile(`(\w+)=(\d+)`)

// ParseRecap returns the per-host counters of the final PLAY RECAP section.
func ParseRecap(stdout string) []HostRecap {
	lines := strings.Split(stdout, "\n")
	start := -1
	for index, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "PLAY RECAP") {
			start = index + 1
		}
	}
	if start < 0 {
		return nil
	}
	var recaps []HostRecap
	for _, line := range lines[start:] {
		match := recapLine.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil {
			continue
		}
		recap := HostRecap{Host: match[1]}
		for _, counter := range recapCounter.FindAllStringSubmatch(match[2], -1) {
			value, err := strconv.Atoi(counter[2])
			if err != nil {
				continue
			}
			switch counter[1] {
			case "ok":
				recap.OK = value
			case "changed":
				recap.Changed = value
			case "unreachable":
				recap.Unreachable = value
			case "failed":
				recap.Failed = value
			case "skipped":
				recap.Skipped = value
			case "rescued":
				recap.Rescued = value
			case "ignored":
				recap.Ignored = value
			}
		}
		recaps = append(recaps, recap)
	}
	return recaps
}

type TaskResult struct {
	Name        string
	OK          []string
	Changed     []string
	Failed      []string
	Unreachable []string
	Skipped     []string
}

func (t TaskResult) Succeeded() bool {
	return len(t.Failed) == 0 && len(t.Unreachable) == 0 && (len(t.OK) > 0 || len(t.Changed) > 0)
}

func (t TaskResult) HasFailures() bool {
	return len(t.Failed) > 0 || len(t.Unreachable) > 0
}

var taskHeader = regexp.MustCompile(`^TASK \[(.+?)\]`)
var hostOutcome = regexp.MustCompile(`^(ok|changed|failed|fatal|skipping): \[([^\]]+)\]`)

// ParseTasks groups the per-host outcome lines under their TASK [...] header.
func ParseTasks(stdout string) []TaskResult {
	var tasks []TaskResult
	current := -1
	for _, raw := range strings.Split(stdout, "\n") {
		line := strings.TrimSpace(raw)
		if match := taskHeader.FindStringSubmatch(line); match != nil {
			tasks = append(tasks, TaskResult{Name: match[1]})
			current = len(tasks) - 1
			continue
		}
		if strings.HasPrefix(line, "PLAY ") {
			current = -1
			continue
		}
		if current < 0 {
			continue
		}
		match := hostOutcome.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		host := match[2]
		if arrow := strings.Index(host, " -> "); arrow >= 0 {
			host = host[:arrow]
		}
		task := &tasks[current]
		switch match[1] {
		case "ok":
			task.OK = appendUnique(task.OK, host)
		case "changed":
			task.Changed = appendUnique(task.Changed, host)
		case "skipping":
			task.Skipped = appendUnique(task.Skipped, host)
		case "failed", "fatal":
			if strings.Contains(line, "UNREACHABLE!") {
				task.Unreachable = appendUnique(task.Unreachable, host)
			} else {
				task.Failed = appendUnique(task.Failed, host)
			}
		}
	}
	return tasks
}

// ItemOutcome is the outcome of an "Install <item>" task across all hosts.
type ItemOutcome struct {
	Item      string
	Succeeded bool
	Failed    bool
}

// MatchItems pairs install items with the "Install <item>" tasks whose subject is the
// item, compared case-insensitively. Items without a matching task are left out.
func MatchItems(items []string, tasks []TaskResult) []ItemOutcome {
	var outcomes []ItemOutcome
	for _, item := range items {
		needle := strings.ToLower(strings.TrimSpace(item))
		if needle == "" {
			continue
		}
		outcome := ItemOutcome{Item: item}
		matched := false
		for _, task := range tasks {
			subject, found := strings.CutPrefix(strings.ToLower(strings.TrimSpace(task.Name)), "install ")
			if !found || strings.TrimSpace(subject) != needle {
				continue
			}
			matched = true
			if task.HasFailures() {
				outcome.Failed = true
			}
			if task.Succeeded() || len(task.OK) > 0 || len(task.Changed) > 0 {
				outcome.Succeeded = true
			}
		}
		if matched {
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}

func sortedKeys(values map[string]struct{}) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
