// Package inventory reads the automation tool's host list for diagnostic commands.
// The relay never edits an inventory; ansible stays the owner of its format.
package inventory

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Host struct {
	Name    string
	Address string
}

type Inventory struct {
	groups   map[string][]Host
	children map[string][]string
}

func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return ParseYAML(data)
	default:
		return ParseINI(data)
	}
}

// ParseINI reads the ansible INI format: [group], [group:children] and host lines
// with key=value variables. [group:vars] sections are skipped.
func ParseINI(data []byte) (*Inventory, error) {
	inv := newInventory()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	section := "ungrouped"
	mode := "hosts"
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("inventory line %d: unterminated section header", lineNumber)
			}
			header := strings.TrimSpace(line[1 : len(line)-1])
			section, mode = header, "hosts"
			if name, suffix, found := strings.Cut(header, ":"); found {
				section, mode = name, suffix
			}
			inv.ensureGroup(section)
			continue
		}
		fields := strings.Fields(line)
		switch mode {
		case "hosts":
			host := Host{Name: fields[0]}
			for _, field := range fields[1:] {
				if value, found := strings.CutPrefix(field, "ansible_host="); found {
					host.Address = strings.Trim(value, `"'`)
				}
			}
			inv.addHost(section, host)
		case "children":
			inv.children[section] = append(inv.children[section], fields[0])
			inv.ensureGroup(fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan inventory: %w", err)
	}
	return inv, nil
}

type yamlGroup struct {
	Hosts    map[string]map[string]any `yaml:"hosts"`
	Children map[string]yamlGroup      `yaml:"children"`
}

// ParseYAML reads the ansible YAML inventory layout rooted at "all".
func ParseYAML(data []byte) (*Inventory, error) {
	var root map[string]yamlGroup
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse yaml inventory: %w", err)
	}
	inv := newInventory()
	var walk func(name string, group yamlGroup)
	walk = func(name string, group yamlGroup) {
		inv.ensureGroup(name)
		for hostName, vars := range group.Hosts {
			host := Host{Name: hostName}
			if address, ok := vars["ansible_host"].(string); ok {
				host.Address = address
			}
			inv.addHost(name, host)
		}
		for childName, child := range group.Children {
			inv.children[name] = append(inv.children[name], childName)
			walk(childName, child)
		}
	}
	for name, group := range root {
		walk(name, group)
	}
	return inv, nil
}

func newInventory() *Inventory {
	return &Inventory{
		groups:   map[string][]Host{},
		children: map[string][]string{},
	}
}

func (i *Inventory) ensureGroup(name string) {
	if _, exists := i.groups[name]; !exists {
		i.groups[name] = nil
	}
}

func (i *Inventory) addHost(group string, host Host) {
	for index, existing := range i.groups[group] {
		if existing.Name == host.Name {
			if host.Address != "" {
				i.groups[group][index].Address = host.Address
			}
			return
		}
	}
	i.groups[group] = append(i.groups[group], host)
}

// Hosts returns the hosts of a group and its children, sorted by name. The group "all"
// covers every host.
func (i *Inventory) Hosts(group string) []Host {
	seen := map[string]Host{}
	visited := map[string]bool{}
	var collect func(name string)
	collect = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, host := range i.groups[name] {
			if existing, ok := seen[host.Name]; ok && existing.Address != "" {
				continue
			}
			seen[host.Name] = host
		}
		for _, child := range i.children[name] {
			collect(child)
		}
	}
	if group == "all" {
		for name := range i.groups {
			collect(name)
		}
	} else {
		collect(group)
	}

	hosts := make([]Host, 0, len(seen))
	for _, host := range seen {
		hosts = append(hosts, host)
	}
	sort.Slice(hosts, func(left, right int) bool {
		return hosts[left].Name < hosts[right].Name
	})
	return hosts
}

func (i *Inventory) HasGroup(name string) bool {
	if name == "all" {
		return true
	}
	_, exists := i.groups[name]
	return exists
}
