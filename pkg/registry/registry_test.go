package registry

import (
	"testing"

	"github.com/gmicheli/driftwatch/pkg/backend/memory"
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

func testRootConfig(name string, proto protocol.Protocol) *RootConfig {
	return &RootConfig{
		Name:     name,
		Protocol: proto,
		Client:   memory.New(proto),
		Handler:  protocol.ForProtocol(proto),
	}
}

func TestAddAndGetRoot(t *testing.T) {
	reg := New()
	if err := reg.AddRoot(testRootConfig("media", protocol.SMB)); err != nil {
		t.Fatalf("AddRoot failed: %v", err)
	}

	root, err := reg.GetRoot("media")
	if err != nil {
		t.Fatalf("GetRoot failed: %v", err)
	}
	if root.Protocol != protocol.SMB {
		t.Errorf("protocol = %v, want %v", root.Protocol, protocol.SMB)
	}
}

func TestAddRootValidation(t *testing.T) {
	tests := []struct {
		name   string
		config *RootConfig
	}{
		{"empty name", &RootConfig{Client: memory.New(protocol.Local), Handler: protocol.ForProtocol(protocol.Local)}},
		{"nil client", &RootConfig{Name: "a", Handler: protocol.ForProtocol(protocol.Local)}},
		{"nil handler", &RootConfig{Name: "a", Client: memory.New(protocol.Local)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := New().AddRoot(tt.config); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestDuplicateRootRejected(t *testing.T) {
	reg := New()
	if err := reg.AddRoot(testRootConfig("dup", protocol.Local)); err != nil {
		t.Fatalf("first AddRoot failed: %v", err)
	}
	if err := reg.AddRoot(testRootConfig("dup", protocol.FTP)); err == nil {
		t.Error("expected duplicate error, got nil")
	}
}

func TestRemoveRoot(t *testing.T) {
	reg := New()
	if err := reg.AddRoot(testRootConfig("gone", protocol.Local)); err != nil {
		t.Fatalf("AddRoot failed: %v", err)
	}
	if err := reg.RemoveRoot("gone"); err != nil {
		t.Fatalf("RemoveRoot failed: %v", err)
	}
	if _, err := reg.GetRoot("gone"); err == nil {
		t.Error("expected lookup error after removal")
	}
	if err := reg.RemoveRoot("gone"); err == nil {
		t.Error("expected error removing absent root")
	}
}

func TestListRootsSorted(t *testing.T) {
	reg := New()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.AddRoot(testRootConfig(name, protocol.Local)); err != nil {
			t.Fatalf("AddRoot %s failed: %v", name, err)
		}
	}
	names := reg.ListRoots()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("got %d roots, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
