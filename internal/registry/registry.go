// Package registry holds the immutable mapping from chat command to playbook entry.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dwizi/lab-relay/internal/config"
	"github.com/dwizi/lab-relay/internal/relayerr"
)

// Kind selects the dispatch routine and the exit-code policy applied to an entry.
type Kind int

const (
	KindMenu Kind = iota + 1
	KindStatus
	KindPing
	KindPlaybook
)

func (k Kind) String() string {
	switch k {
	case KindMenu:
		return "menu"
	case KindStatus:
		return "status"
	case KindPing:
		return "ping"
	case KindPlaybook:
		return "playbook"
	default:
		return "unknown"
	}
}

func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "menu", "help":
		return KindMenu, nil
	case "status":
		return KindStatus, nil
	case "ping":
		return KindPing, nil
	case "playbook", "install":
		return KindPlaybook, nil
	default:
		return 0, fmt.Errorf("unknown command kind %q", value)
	}
}

// Mutating reports whether the entry changes target machines and must be gated on reachability.
func (k Kind) Mutating() bool {
	return k == KindPlaybook
}

type Entry struct {
	Name         string
	Description  string
	Kind         Kind
	PlaybookPath string
	TargetGroup  string
	Timeout      time.Duration
	Become       bool
}

type Registry struct {
	inventoryPath string
	projectPath   string
	entries       map[string]Entry
	order         []string
}

var commandSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// NormalizeName maps a chat command to its registry key: lowercase, no leading slash,
// no @bot suffix, Telegram's allowed alphabet, at most 32 characters.
func NormalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.TrimPrefix(normalized, "/")
	if at := strings.Index(normalized, "@"); at >= 0 {
		normalized = normalized[:at]
	}
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = commandSanitizer.ReplaceAllString(normalized, "")
	normalized = strings.Trim(normalized, "_")
	if len(normalized) > 32 {
		normalized = strings.Trim(normalized[:32], "_")
	}
	return normalized
}

// New validates entries and builds a registry. Playbook files and the inventory must exist.
func New(inventoryPath, projectPath string, entries []Entry) (*Registry, error) {
	inventoryPath = strings.TrimSpace(inventoryPath)
	if err := requireFile("inventory", inventoryPath); err != nil {
		return nil, err
	}
	reg := &Registry{
		inventoryPath: inventoryPath,
		projectPath:   strings.TrimSpace(projectPath),
		entries:       make(map[string]Entry, len(entries)),
	}
	for _, entry := range entries {
		name := NormalizeName(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: command name %q is invalid", relayerr.ErrConfigurationMissing, entry.Name)
		}
		if _, exists := reg.entries[name]; exists {
			return nil, fmt.Errorf("%w: command %q is registered twice", relayerr.ErrConfigurationMissing, name)
		}
		entry.Name = name
		entry.Description = strings.TrimSpace(entry.Description)
		entry.TargetGroup = strings.TrimSpace(entry.TargetGroup)
		switch entry.Kind {
		case KindMenu, KindStatus, KindPing:
		case KindPlaybook:
			if strings.TrimSpace(entry.PlaybookPath) == "" {
				return nil, fmt.Errorf("%w: command %q has no playbook path", relayerr.ErrConfigurationMissing, name)
			}
			if err := requireFile("playbook for /"+name, entry.PlaybookPath); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: command %q has no kind", relayerr.ErrConfigurationMissing, name)
		}
		if entry.Kind != KindMenu && entry.TargetGroup == "" {
			return nil, fmt.Errorf("%w: command %q has no target group", relayerr.ErrConfigurationMissing, name)
		}
		reg.entries[name] = entry
		reg.order = append(reg.order, name)
	}
	sort.Strings(reg.order)
	return reg, nil
}

// Load builds the registry from the default commands plus the optional YAML command file.
func Load(cfg config.Config) (*Registry, error) {
	entries := Defaults(cfg)
	if path := strings.TrimSpace(cfg.CommandsFile); path != "" {
		fileEntries, err := LoadFile(path, cfg)
		if err != nil {
			return nil, err
		}
		entries = merge(entries, fileEntries)
	}
	return New(cfg.InventoryPath, cfg.ProjectPath, entries)
}

func Defaults(cfg config.Config) []Entry {
	return []Entry{
		{Name: "start", Description: "Main menu", Kind: KindMenu},
		{Name: "help", Description: "List available commands", Kind: KindMenu},
		{
			Name:        "lab_status",
			Description: "Status of every lab PC",
			Kind:        KindStatus,
			TargetGroup: cfg.TargetGroup,
			Timeout:     cfg.HostProbeTimeout(),
		},
		{
			Name:        "windows_ping",
			Description: "Test connectivity to the Windows PCs",
			Kind:        KindPing,
			TargetGroup: cfg.TargetGroup,
			Timeout:     cfg.PingTimeout(),
		},
		{
			Name:         "install_software",
			Description:  "Install common software on online PCs",
			Kind:         KindPlaybook,
			PlaybookPath: cfg.SoftwarePlaybook,
			TargetGroup:  cfg.TargetGroup,
			Timeout:      cfg.PlaybookTimeout(),
			Become:       cfg.PlaybookBecome,
		},
	}
}

type commandFile struct {
	Commands []commandFileEntry `yaml:"commands"`
}

type commandFileEntry struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	Kind           string `yaml:"kind"`
	Playbook       string `yaml:"playbook"`
	Group          string `yaml:"group"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Become         bool   `yaml:"become"`
}

// LoadFile reads extra or overriding command entries from a YAML file.
func LoadFile(path string, cfg config.Config) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read commands file: %v", relayerr.ErrConfigurationMissing, err)
	}
	var file commandFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse commands file %s: %v", relayerr.ErrConfigurationMissing, path, err)
	}
	entries := make([]Entry, 0, len(file.Commands))
	for _, item := range file.Commands {
		kind, err := ParseKind(item.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: command %q: %v", relayerr.ErrConfigurationMissing, item.Name, err)
		}
		entry := Entry{
			Name:        item.Name,
			Description: item.Description,
			Kind:        kind,
			TargetGroup: item.Group,
			Become:      item.Become,
		}
		if entry.TargetGroup == "" && kind != KindMenu {
			entry.TargetGroup = cfg.TargetGroup
		}
		if playbook := strings.TrimSpace(item.Playbook); playbook != "" {
			if !filepath.IsAbs(playbook) {
				playbook = filepath.Join(cfg.ProjectPath, playbook)
			}
			entry.PlaybookPath = playbook
		}
		entry.Timeout = time.Duration(item.TimeoutSeconds) * time.Second
		if entry.Timeout <= 0 {
			entry.Timeout = defaultTimeout(kind, cfg)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func defaultTimeout(kind Kind, cfg config.Config) time.Duration {
	switch kind {
	case KindStatus:
		return cfg.HostProbeTimeout()
	case KindPing:
		return cfg.PingTimeout()
	case KindPlaybook:
		return cfg.PlaybookTimeout()
	default:
		return 0
	}
}

func merge(base, overrides []Entry) []Entry {
	index := map[string]int{}
	result := append([]Entry{}, base...)
	for i, entry := range result {
		index[NormalizeName(entry.Name)] = i
	}
	for _, entry := range overrides {
		key := NormalizeName(entry.Name)
		if position, exists := index[key]; exists {
			result[position] = entry
			continue
		}
		index[key] = len(result)
		result = append(result, entry)
	}
	return result
}

func requireFile(label, path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: %s path is empty", relayerr.ErrConfigurationMissing, label)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s not found: %s", relayerr.ErrConfigurationMissing, label, path)
		}
		return fmt.Errorf("%w: stat %s %s: %v", relayerr.ErrConfigurationMissing, label, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory: %s", relayerr.ErrConfigurationMissing, label, path)
	}
	return nil
}

// Resolve returns the entry registered for a command name.
func (r *Registry) Resolve(name string) (Entry, error) {
	key := NormalizeName(name)
	entry, found := r.entries[key]
	if !found {
		return Entry{}, fmt.Errorf("%w: /%s", relayerr.ErrUnknownCommand, key)
	}
	return entry, nil
}

// Entries returns every entry sorted by name.
func (r *Registry) Entries() []Entry {
	result := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.entries[name])
	}
	return result
}

func (r *Registry) InventoryPath() string {
	return r.inventoryPath
}

func (r *Registry) ProjectPath() string {
	return r.projectPath
}

// Files lists every file path the registry depends on.
func (r *Registry) Files() []string {
	files := []string{r.inventoryPath}
	for _, entry := range r.Entries() {
		if entry.PlaybookPath != "" {
			files = append(files, entry.PlaybookPath)
		}
	}
	return files
}
