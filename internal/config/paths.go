package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// File names used by the license core. The odd mix of hidden files and
// app-data locations mirrors where earlier releases stored their state, so
// upgrades keep finding existing licenses.
const (
	licenseFileName  = ".baize_license"
	licenseDataName  = "license.dat"
	trialFileName    = ".baize_trial"
	sessionsFileName = "payment_sessions.json"
	markerFileName   = ".no_activation"
	deviceIDFileName = ".baize_device"
	appDirName       = "BaizeAI"
)

// Paths contains all filesystem locations used by the client license core.
// This is the single source of truth for those paths.
type Paths struct {
	// LicenseCandidates are the ordered locations of the encrypted license
	// record. Reads take the first candidate that decodes; writes go to all
	// of them so a single unwritable location does not lose the license.
	LicenseCandidates []string

	// TrialFile holds the first-run timestamp.
	TrialFile string

	// SessionsFile holds the local-to-server checkout session id mapping.
	SessionsFile string

	// MarkerFile is the build-time "no activation required" marker.
	MarkerFile string

	// DeviceIDFile persists the random device identity used when hardware
	// probing fails.
	DeviceIDFile string
}

// GetPaths resolves the client-side path set. Candidate order is home
// directory hidden file, platform app-data directory, executable-relative
// data directory. Missing directories are not an error here; they are
// created lazily on write.
func GetPaths() (*Paths, error) {
	home, homeErr := os.UserHomeDir()
	cfgDir, cfgErr := os.UserConfigDir()
	exeDir := executableDir()

	if homeErr != nil && cfgErr != nil && exeDir == "" {
		return nil, fmt.Errorf("no usable base directory: home: %v, config: %v", homeErr, cfgErr)
	}

	var candidates []string
	if homeErr == nil {
		candidates = append(candidates, filepath.Join(home, licenseFileName))
	}
	if cfgErr == nil {
		candidates = append(candidates, filepath.Join(cfgDir, appDirName, licenseDataName))
	}
	if exeDir != "" {
		candidates = append(candidates, filepath.Join(exeDir, "data", licenseDataName))
	}

	dataDir := firstNonEmpty(
		joinIfSet(cfgDir, cfgErr, appDirName),
		joinIfSet(home, homeErr, "."+appDirName),
		filepath.Join(exeDir, "data"),
	)

	return &Paths{
		LicenseCandidates: candidates,
		TrialFile:         filepath.Join(dataDir, trialFileName),
		SessionsFile:      filepath.Join(dataDir, sessionsFileName),
		MarkerFile:        filepath.Join(exeDirOr(dataDir), markerFileName),
		DeviceIDFile:      filepath.Join(dataDir, deviceIDFileName),
	}, nil
}

// executableDir returns the directory holding the running binary, with
// symlinks resolved. Empty string when it cannot be determined.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

func exeDirOr(fallback string) string {
	if dir := executableDir(); dir != "" {
		return dir
	}
	return fallback
}

func joinIfSet(base string, err error, elem string) string {
	if err != nil || base == "" {
		return ""
	}
	return filepath.Join(base, elem)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// FileExists reports whether the given path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
