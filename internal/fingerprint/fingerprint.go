// Package fingerprint derives a stable per-device identifier from hardware
// and OS signals. The identifier binds a license record to one machine.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DigestLength is the number of hex characters kept from the SHA-256 digest.
// Truncation is an accepted collision-probability tradeoff: 64 bits is far
// more than enough for a per-customer device population.
const DigestLength = 16

// Components holds the individual evidence values that went into a
// fingerprint, kept for display and debugging only.
type Components struct {
	CPUID       string    `json:"cpu_id"`
	MACAddress  string    `json:"mac_address"`
	BoardSerial string    `json:"board_serial"`
	OS          string    `json:"os"`
	Arch        string    `json:"arch"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Generator produces device fingerprints. Results are cached per process
// since the underlying evidence does not change while we run.
type Generator struct {
	fallbackPath string
	logger       *slog.Logger

	mu     sync.RWMutex
	cached string
	comps  *Components
}

// NewGenerator creates a fingerprint generator. fallbackPath is where the
// persisted random identity is kept when hardware probing yields nothing.
func NewGenerator(fallbackPath string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		fallbackPath: fallbackPath,
		logger:       logger.With(slog.String("component", "fingerprint")),
	}
}

// Fingerprint returns the device fingerprint: the first 16 hex characters of
// a SHA-256 digest over the concatenated hardware evidence. It never fails;
// when no hardware signal is available it degrades to a persisted random
// identity and logs a warning, since that weakens the device binding.
func (g *Generator) Fingerprint() string {
	g.mu.RLock()
	if g.cached != "" {
		fp := g.cached
		g.mu.RUnlock()
		return fp
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cached != "" {
		return g.cached
	}

	comps := g.probe()
	evidence := strings.Join([]string{
		comps.CPUID,
		comps.MACAddress,
		comps.BoardSerial,
		comps.Arch,
		comps.OS,
	}, "|")

	sum := sha256.Sum256([]byte(evidence))
	g.cached = hex.EncodeToString(sum[:])[:DigestLength]
	g.comps = comps

	g.logger.Debug("device fingerprint generated",
		slog.String("fingerprint", g.cached),
		slog.String("os", comps.OS),
		slog.String("arch", comps.Arch),
	)
	return g.cached
}

// Components returns the evidence behind the current fingerprint.
func (g *Generator) Components() *Components {
	g.Fingerprint()
	g.mu.RLock()
	defer g.mu.RUnlock()
	c := *g.comps
	return &c
}

// probe collects the hardware evidence. Tie-break policy: CPU serial when
// queryable, else a stable MAC address, else a persisted random UUID.
func (g *Generator) probe() *Components {
	comps := &Components{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GeneratedAt: time.Now(),
	}

	cpuID, cpuErr := g.cpuID()
	if cpuErr != nil {
		g.logger.Warn("CPU probe failed, fingerprint relies on remaining signals",
			slog.String("error", cpuErr.Error()))
	}
	comps.CPUID = cpuID

	mac, macErr := primaryMAC()
	if macErr != nil {
		g.logger.Warn("MAC probe failed, fingerprint relies on remaining signals",
			slog.String("error", macErr.Error()))
	}
	comps.MACAddress = mac

	// Board serial is optional evidence; absence is not logged as a problem.
	comps.BoardSerial = boardSerial()

	if cpuID == "" && mac == "" {
		// All hardware probes failed. Fall back to a random identity that is
		// created once and reused, so the fingerprint stays stable.
		id, err := g.persistedIdentity()
		if err != nil {
			// Last resort: process-local random value. Binding is effectively
			// per-run, which the manager tolerates but cannot defend.
			id = uuid.NewString()
			g.logger.Error("persisted fallback identity unavailable, using per-run identity",
				slog.String("error", err.Error()))
		}
		comps.CPUID = id
		g.logger.Warn("hardware probing failed entirely, device binding weakened",
			slog.String("fallback_identity", id))
	}

	return comps
}

// cpuID returns a normalized CPU identifier for the current platform.
func (g *Generator) cpuID() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			return normalize(procID), nil
		}
		return "", fmt.Errorf("PROCESSOR_IDENTIFIER not set")
	case "linux":
		data, err := os.ReadFile("/proc/cpuinfo")
		if err != nil {
			return "", fmt.Errorf("read /proc/cpuinfo: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "model name") || strings.HasPrefix(line, "Serial") {
				return normalize(line), nil
			}
		}
		return "", fmt.Errorf("no usable line in /proc/cpuinfo")
	case "darwin":
		// No stable serial without invoking system_profiler; the arch plus
		// host type is what earlier releases used.
		info := "darwin-" + runtime.GOARCH
		if hostType := os.Getenv("HOSTTYPE"); hostType != "" {
			info += "-" + hostType
		}
		return normalize(info), nil
	default:
		return normalize(runtime.GOOS + "-" + runtime.GOARCH), nil
	}
}

// primaryMAC returns the MAC address of the first up, non-loopback interface,
// excluding null and broadcast addresses.
func primaryMAC() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("list network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := usableMAC(iface.HardwareAddr); mac != "" {
			return mac, nil
		}
	}

	// Fallback: any interface with a usable address, up or not.
	for _, iface := range interfaces {
		if mac := usableMAC(iface.HardwareAddr); mac != "" {
			return mac, nil
		}
	}

	return "", fmt.Errorf("no valid MAC address found")
}

func usableMAC(addr net.HardwareAddr) string {
	mac := addr.String()
	switch mac {
	case "", "00:00:00:00:00:00", "ff:ff:ff:ff:ff:ff":
		return ""
	}
	return mac
}

// boardSerial returns the motherboard serial where readable, empty otherwise.
func boardSerial() string {
	if runtime.GOOS != "linux" {
		return ""
	}
	data, err := os.ReadFile("/sys/class/dmi/id/board_serial")
	if err != nil {
		return ""
	}
	serial := strings.TrimSpace(string(data))
	// Some firmware reports placeholder values.
	switch serial {
	case "", "None", "Default string", "To be filled by O.E.M.":
		return ""
	}
	return serial
}

// persistedIdentity returns the random UUID created on first fallback and
// reused on every subsequent run.
func (g *Generator) persistedIdentity() (string, error) {
	if g.fallbackPath == "" {
		return "", fmt.Errorf("no fallback identity path configured")
	}

	if data, err := os.ReadFile(g.fallbackPath); err == nil {
		id := strings.TrimSpace(string(data))
		if _, err := uuid.Parse(id); err == nil {
			return id, nil
		}
		// Corrupt file: regenerate below rather than fail.
		g.logger.Warn("fallback identity file corrupt, regenerating",
			slog.String("path", g.fallbackPath))
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(g.fallbackPath), 0o755); err != nil {
		return "", fmt.Errorf("create fallback identity directory: %w", err)
	}
	if err := os.WriteFile(g.fallbackPath, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("write fallback identity: %w", err)
	}
	return id, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
