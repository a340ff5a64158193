// Package trial implements first-run timestamping and the elapsed-time trial
// window used before an activation code is entered.
package trial

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Status describes the trial state returned to the caller.
type Status struct {
	Trial         bool `json:"trial"`
	RemainingDays int  `json:"remaining_days"`
	Expired       bool `json:"expired"`
}

// Tracker manages the trial window. The start timestamp is written once on
// first run and never mutated; expiry is terminal with no automatic reset.
type Tracker struct {
	path   string
	days   int
	now    func() time.Time
	logger *slog.Logger
}

// NewTracker creates a trial tracker persisting its first-run timestamp at
// path, with a trial window of days days.
func NewTracker(path string, days int, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		path:   path,
		days:   days,
		now:    time.Now,
		logger: logger.With(slog.String("component", "trial")),
	}
}

// Check evaluates the trial window. On first run it records the current time
// and grants the full window. Afterwards the remaining days shrink as whole
// elapsed days accumulate; the window is expired once the full length has
// elapsed, boundary included.
func (t *Tracker) Check() (bool, string, Status) {
	start, err := t.readStart()
	if err != nil {
		if !os.IsNotExist(err) {
			// Unreadable or corrupt trial file. Re-arming the trial would be a
			// reset vector, so treat it as expired instead.
			t.logger.Warn("trial file unreadable, treating trial as expired",
				slog.String("path", t.path),
				slog.String("error", err.Error()))
			return false, "Trial state could not be read. Please activate a license.", Status{Trial: true, Expired: true}
		}
		return t.firstRun()
	}

	elapsedDays := t.now().Sub(start).Hours() / 24
	remaining := t.days - int(math.Floor(elapsedDays))
	if remaining > t.days {
		// Clock rolled back before the recorded start; never grant more than
		// the full window.
		remaining = t.days
	}
	if elapsedDays >= float64(t.days) || remaining <= 0 {
		t.logger.Info("trial window expired",
			slog.Time("started_at", start),
			slog.Int("trial_days", t.days))
		return false, fmt.Sprintf("Your %d-day trial has expired. Please activate a license.", t.days),
			Status{Trial: true, Expired: true}
	}

	return true, fmt.Sprintf("Trial active, %d day(s) remaining.", remaining),
		Status{Trial: true, RemainingDays: remaining}
}

// firstRun records the trial start and grants the full window.
func (t *Tracker) firstRun() (bool, string, Status) {
	now := t.now()
	if err := t.writeStart(now); err != nil {
		// The trial still runs for this session; it will just restart next
		// launch. Better than blocking a fresh install.
		t.logger.Warn("failed to persist trial start",
			slog.String("path", t.path),
			slog.String("error", err.Error()))
	} else {
		t.logger.Info("trial started",
			slog.Time("started_at", now),
			slog.Int("trial_days", t.days))
	}
	return true, fmt.Sprintf("Trial started, %d day(s) remaining.", t.days),
		Status{Trial: true, RemainingDays: t.days}
}

// readStart parses the stored first-run timestamp: a decimal float of seconds
// since the epoch, the format earlier releases wrote.
func (t *Tracker) readStart() (time.Time, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return time.Time{}, err
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse trial timestamp: %w", err)
	}
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec), nil
}

func (t *Tracker) writeStart(start time.Time) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create trial directory: %w", err)
	}
	value := strconv.FormatFloat(float64(start.UnixNano())/float64(time.Second), 'f', 6, 64)
	return os.WriteFile(t.path, []byte(value), 0o600)
}
