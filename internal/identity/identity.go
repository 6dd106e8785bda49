// Package identity derives and persists the stable device identifier stamped
// onto every outgoing event.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const idLength = 12

// DeviceID returns the device identifier stored at path, generating and
// persisting a new one on first boot. The id is stable across restarts as
// long as the file survives; losing the file mints a new identity.
func DeviceID(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("device id path is required")
	}

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read device id file: %w", err)
	}

	id := generate()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create device id directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}

	return id, nil
}

// generate hashes hostname, primary MAC, and a random component so two
// identical devices never collide even when cloned from the same image.
func generate() string {
	hostname, _ := os.Hostname()

	seed := hostname + "|" + primaryMAC() + "|" + uuid.NewString()
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:idLength]
}

func primaryMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if addr := iface.HardwareAddr.String(); addr != "" {
			return addr
		}
	}
	return ""
}
