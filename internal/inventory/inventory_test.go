package inventory

import (
	"os"
	"path/filepath"
	"testing"
)

const iniInventory = `# lab machines
[windows_lab]
pc01 ansible_host=10.0.0.11 ansible_user=admin
pc02 ansible_host="10.0.0.12"
; disabled
pc03

[windows_lab:vars]
ansible_connection=winrm

[staff]
office01 ansible_host=10.0.1.5

[everyone:children]
windows_lab
staff
`

func TestParseINIGroupHosts(t *testing.T) {
	inv, err := ParseINI([]byte(iniInventory))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	hosts := inv.Hosts("windows_lab")
	if len(hosts) != 3 {
		t.Fatalf("expected 3 hosts, got %+v", hosts)
	}
	if hosts[0].Name != "pc01" || hosts[0].Address != "10.0.0.11" {
		t.Fatalf("unexpected first host: %+v", hosts[0])
	}
	if hosts[1].Address != "10.0.0.12" {
		t.Fatalf("expected quotes stripped, got %q", hosts[1].Address)
	}
	if hosts[2].Address != "" {
		t.Fatalf("expected empty address, got %q", hosts[2].Address)
	}
	if inv.HasGroup("missing") {
		t.Fatal("unexpected group")
	}
}

func TestParseINIChildren(t *testing.T) {
	inv, err := ParseINI([]byte(iniInventory))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := len(inv.Hosts("everyone")); got != 4 {
		t.Fatalf("expected 4 hosts through children, got %d", got)
	}
	if got := len(inv.Hosts("all")); got != 4 {
		t.Fatalf("expected 4 hosts in all, got %d", got)
	}
}

func TestParseINIRejectsBrokenHeader(t *testing.T) {
	if _, err := ParseINI([]byte("[windows_lab\npc01\n")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadYAMLInventory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.yml")
	content := `all:
  children:
    windows_lab:
      hosts:
        pc01:
          ansible_host: 10.0.0.11
        pc02: {}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	inv, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	hosts := inv.Hosts("windows_lab")
	if len(hosts) != 2 || hosts[0].Address != "10.0.0.11" {
		t.Fatalf("unexpected hosts: %+v", hosts)
	}
}
