package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dwizi/lab-relay/internal/relayerr"
)

type Config struct {
	Environment string
	LogLevel    string
	HTTPAddr    string

	TelegramToken  string
	TelegramAPI    string
	TelegramPoll   int
	OperatorChatID string
	OperatorOnly   bool
	CommandSync    bool

	// ProgressReplies sends short notices before long-running steps.
	ProgressReplies bool
	DropPending     bool

	ProjectPath           string
	InventoryPath         string
	SoftwarePlaybook      string
	TargetGroup           string
	CommandsFile          string
	AnsibleBinary         string
	AnsiblePlaybookBinary string
	PingModule            string
	BecomePassword        string
	// PlaybookBecome runs the built-in install playbook with privilege escalation.
	PlaybookBecome bool

	PingTimeoutSec      int
	ProbeTimeoutSec     int
	HostProbeTimeoutSec int
	PlaybookTimeoutSec  int
	StatusConcurrency   int
	NotifyTimeoutSec    int

	WatchFiles              bool
	HeartbeatEnabled        bool
	HeartbeatIntervalSec    int
	HeartbeatStaleSec       int
	HeartbeatNotifyOperator bool
}

// placeholderValues are values shipped in sample configs that must never reach the Bot API.
var placeholderValues = map[string]struct{}{
	"masukkan_token_anda_disini": {},
	"your_token_here":            {},
	"your-bot-token":             {},
	"changeme":                   {},
	"change-me":                  {},
	"token":                      {},
	"<token>":                    {},
	"your_chat_id":               {},
	"0":                          {},
}

func FromEnv() Config {
	projectPath := stringOrDefault("LAB_RELAY_PROJECT_PATH", ".")
	becomePassword := os.Getenv("LAB_RELAY_BECOME_PASSWORD")
	return Config{
		Environment: stringOrDefault("LAB_RELAY_ENV", "development"),
		LogLevel:    stringOrDefault("LAB_RELAY_LOG_LEVEL", "info"),
		HTTPAddr:    strings.TrimSpace(os.Getenv("LAB_RELAY_HTTP_ADDR")),

		TelegramToken:  strings.TrimSpace(os.Getenv("LAB_RELAY_TELEGRAM_TOKEN")),
		TelegramAPI:    stringOrDefault("LAB_RELAY_TELEGRAM_API_BASE", "https://api.telegram.org"),
		TelegramPoll:   intOrDefault("LAB_RELAY_TELEGRAM_POLL_SECONDS", 25),
		OperatorChatID: strings.TrimSpace(os.Getenv("LAB_RELAY_OPERATOR_CHAT_ID")),
		OperatorOnly:   boolOrDefault("LAB_RELAY_OPERATOR_ONLY", false),
		CommandSync:    boolOrDefault("LAB_RELAY_COMMAND_SYNC_ENABLED", true),

		ProgressReplies: boolOrDefault("LAB_RELAY_PROGRESS_MESSAGES", true),
		DropPending:     boolOrDefault("LAB_RELAY_DROP_PENDING_UPDATES", true),

		ProjectPath:           projectPath,
		InventoryPath:         pathOrDefault("LAB_RELAY_INVENTORY_PATH", projectPath, filepath.Join("inventory", "windows.ini")),
		SoftwarePlaybook:      pathOrDefault("LAB_RELAY_SOFTWARE_PLAYBOOK", projectPath, filepath.Join("playbooks", "windows_software.yml")),
		TargetGroup:           stringOrDefault("LAB_RELAY_TARGET_GROUP", "windows_lab"),
		CommandsFile:          strings.TrimSpace(os.Getenv("LAB_RELAY_COMMANDS_FILE")),
		AnsibleBinary:         stringOrDefault("LAB_RELAY_ANSIBLE_BINARY", "ansible"),
		AnsiblePlaybookBinary: stringOrDefault("LAB_RELAY_ANSIBLE_PLAYBOOK_BINARY", "ansible-playbook"),
		PingModule:            stringOrDefault("LAB_RELAY_PING_MODULE", "win_ping"),
		BecomePassword:        becomePassword,
		PlaybookBecome:        boolOrDefault("LAB_RELAY_PLAYBOOK_BECOME", becomePassword != ""),

		PingTimeoutSec:      intOrDefault("LAB_RELAY_PING_TIMEOUT_SECONDS", 60),
		ProbeTimeoutSec:     intOrDefault("LAB_RELAY_PROBE_TIMEOUT_SECONDS", 30),
		HostProbeTimeoutSec: intOrDefault("LAB_RELAY_HOST_PROBE_TIMEOUT_SECONDS", 10),
		PlaybookTimeoutSec:  intOrDefault("LAB_RELAY_PLAYBOOK_TIMEOUT_SECONDS", 2400),
		StatusConcurrency:   intOrDefault("LAB_RELAY_STATUS_CONCURRENCY", 4),
		NotifyTimeoutSec:    intOrDefault("LAB_RELAY_NOTIFY_TIMEOUT_SECONDS", 8),

		WatchFiles:              boolOrDefault("LAB_RELAY_WATCH_FILES", true),
		HeartbeatEnabled:        boolOrDefault("LAB_RELAY_HEARTBEAT_ENABLED", true),
		HeartbeatIntervalSec:    intOrDefault("LAB_RELAY_HEARTBEAT_INTERVAL_SECONDS", 30),
		HeartbeatStaleSec:       intOrDefault("LAB_RELAY_HEARTBEAT_STALE_SECONDS", 120),
		HeartbeatNotifyOperator: boolOrDefault("LAB_RELAY_HEARTBEAT_NOTIFY_OPERATOR", true),
	}
}

// Validate checks the identity values the relay cannot run without. File paths are
// checked when the registry is loaded.
func (c Config) Validate() error {
	token := strings.TrimSpace(c.TelegramToken)
	if token == "" {
		return fmt.Errorf("%w: LAB_RELAY_TELEGRAM_TOKEN is not set", relayerr.ErrConfigurationMissing)
	}
	if isPlaceholder(token) {
		return fmt.Errorf("%w: LAB_RELAY_TELEGRAM_TOKEN still holds a placeholder value", relayerr.ErrConfigurationMissing)
	}
	chatID := strings.TrimSpace(c.OperatorChatID)
	if chatID == "" {
		return fmt.Errorf("%w: LAB_RELAY_OPERATOR_CHAT_ID is not set", relayerr.ErrConfigurationMissing)
	}
	if isPlaceholder(chatID) {
		return fmt.Errorf("%w: LAB_RELAY_OPERATOR_CHAT_ID still holds a placeholder value", relayerr.ErrConfigurationMissing)
	}
	if _, err := strconv.ParseInt(chatID, 10, 64); err != nil {
		return fmt.Errorf("%w: LAB_RELAY_OPERATOR_CHAT_ID must be numeric: %q", relayerr.ErrConfigurationMissing, chatID)
	}
	return nil
}

func (c Config) PingTimeout() time.Duration {
	return time.Duration(c.PingTimeoutSec) * time.Second
}

func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

func (c Config) HostProbeTimeout() time.Duration {
	return time.Duration(c.HostProbeTimeoutSec) * time.Second
}

func (c Config) PlaybookTimeout() time.Duration {
	return time.Duration(c.PlaybookTimeoutSec) * time.Second
}

func (c Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutSec) * time.Second
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isPlaceholder(value string) bool {
	_, found := placeholderValues[strings.ToLower(strings.TrimSpace(value))]
	return found
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func pathOrDefault(name, base, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return filepath.Join(base, fallback)
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(base, value)
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
