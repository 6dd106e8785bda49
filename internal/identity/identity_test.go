package identity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDeviceIDRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := DeviceID("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestDeviceIDGeneratesAndPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "device_id")

	id, err := DeviceID(path)
	if err != nil {
		t.Fatalf("DeviceID() error = %v", err)
	}
	if len(id) != idLength {
		t.Fatalf("id length = %d, want %d", len(id), idLength)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading persisted id: %v", err)
	}
	if strings.TrimSpace(string(data)) != id {
		t.Fatalf("persisted id = %q, want %q", strings.TrimSpace(string(data)), id)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestDeviceIDStableAcrossCalls(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "device_id")

	first, err := DeviceID(path)
	if err != nil {
		t.Fatalf("DeviceID() error = %v", err)
	}
	second, err := DeviceID(path)
	if err != nil {
		t.Fatalf("DeviceID() second call error = %v", err)
	}
	if first != second {
		t.Fatalf("id changed between calls: %q then %q", first, second)
	}
}

func TestDeviceIDReadsExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "device_id")
	if err := os.WriteFile(path, []byte("abc123def456\n"), 0o600); err != nil {
		t.Fatalf("seeding id file: %v", err)
	}

	id, err := DeviceID(path)
	if err != nil {
		t.Fatalf("DeviceID() error = %v", err)
	}
	if id != "abc123def456" {
		t.Fatalf("id = %q, want abc123def456", id)
	}
}
