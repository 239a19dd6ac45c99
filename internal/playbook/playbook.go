// Package playbook inspects playbook files so reports can name what a run installs.
package playbook

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Play struct {
	Name  string `yaml:"name"`
	Hosts string `yaml:"hosts"`
	Tasks []Task `yaml:"tasks"`
}

type Task struct {
	Name   string `yaml:"name"`
	Block  []Task `yaml:"block"`
	Rescue []Task `yaml:"rescue"`
	Always []Task `yaml:"always"`
}

type Playbook struct {
	Plays []Play
}

func Load(path string) (Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Playbook{}, fmt.Errorf("read playbook: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Playbook, error) {
	var plays []Play
	if err := yaml.Unmarshal(data, &plays); err != nil {
		return Playbook{}, fmt.Errorf("parse playbook: %w", err)
	}
	return Playbook{Plays: plays}, nil
}

// TaskNames lists named tasks in file order, flattening blocks.
func (p Playbook) TaskNames() []string {
	var names []string
	var walk func(tasks []Task)
	walk = func(tasks []Task) {
		for _, task := range tasks {
			if name := strings.TrimSpace(task.Name); name != "" && len(task.Block) == 0 {
				names = append(names, name)
			}
			walk(task.Block)
			walk(task.Rescue)
			walk(task.Always)
		}
	}
	for _, play := range p.Plays {
		walk(play.Tasks)
	}
	return names
}

// InstallItems returns the subjects of "Install <item>" tasks, deduplicated.
func (p Playbook) InstallItems() []string {
	var items []string
	seen := map[string]struct{}{}
	for _, name := range p.TaskNames() {
		item, found := cutPrefixFold(name, "install ")
		if !found {
			continue
		}
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" {
			continue
		}
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		items = append(items, item)
	}
	return items
}

func cutPrefixFold(value, prefix string) (string, bool) {
	if len(value) < len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return value, false
	}
	return value[len(prefix):], true
}
