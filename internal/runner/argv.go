package runner

import (
	"encoding/json"
	"strings"
)

// PartialExitCode is what ansible returns when some hosts were unreachable or failed
// while the run itself completed.
const PartialExitCode = 4

type Status int

const (
	StatusSuccess Status = iota + 1
	StatusPartial
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPartial:
		return "partial"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Classify maps an exit code to a status. Callers that do not accept partial runs get
// StatusFailure for PartialExitCode.
func Classify(exitCode int, allowPartial bool) Status {
	switch {
	case exitCode == 0:
		return StatusSuccess
	case exitCode == PartialExitCode && allowPartial:
		return StatusPartial
	default:
		return StatusFailure
	}
}

// PingArgv builds an ad-hoc connectivity probe: tool target -i inventory -m module.
func PingArgv(tool, target, inventory, module string, oneLine bool) []string {
	argv := []string{tool, target, "-i", inventory, "-m", module}
	if oneLine {
		argv = append(argv, "--one-line")
	}
	return argv
}

// PlaybookArgv builds tool playbook -i inventory [--limit hosts] [become flags]. When
// become is set, exactly one of --extra-vars with the password or --ask-become-pass is
// appended depending on whether a password is configured.
func PlaybookArgv(tool, playbookPath, inventory string, limit []string, become bool, becomePassword string) []string {
	argv := []string{tool, playbookPath, "-i", inventory}
	if len(limit) > 0 {
		argv = append(argv, "--limit", strings.Join(limit, ","))
	}
	if !become {
		return argv
	}
	if becomePassword != "" {
		payload, _ := json.Marshal(map[string]string{"ansible_become_password": becomePassword})
		return append(argv, "--extra-vars", string(payload))
	}
	return append(argv, "--ask-become-pass")
}

// Redact returns a copy of argv with every secret replaced.
func Redact(argv []string, secrets ...string) []string {
	result := make([]string, len(argv))
	for i, arg := range argv {
		for _, secret := range secrets {
			if secret == "" {
				continue
			}
			arg = strings.ReplaceAll(arg, secret, "***")
			if encoded, err := json.Marshal(secret); err == nil {
				inner := strings.Trim(string(encoded), `"`)
				if inner != secret {
					arg = strings.ReplaceAll(arg, inner, "***")
				}
			}
		}
		result[i] = arg
	}
	return result
}
