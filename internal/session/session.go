// Package session manages the ephemeral per-user extraction session:
// its identity, its scratch files, and the advisory liveness markers
// other sessions use to detect concurrent activity.
//
// Cross-session coordination is filesystem-only. A session is visible to
// others while its marker file is under five minutes old; scratch files
// older than one hour are reclaimed regardless of which session created
// them.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// LiveWindow is how recent a marker must be for its session to count
	// as live to others.
	LiveWindow = 5 * time.Minute

	// ReclaimWindow is how old a scratch file must be before reclamation
	// deletes it, across all sessions.
	ReclaimWindow = 1 * time.Hour
)

// Scratch file prefixes owned by this system. Reclamation only ever
// touches files carrying one of these.
var scratchPrefixes = []string{"private_", "lock_", "session_"}

// Session is one user's extraction session. The identity persists across
// process invocations via a per-user state file in the scratch directory
// until the session is closed or reclaimed.
type Session struct {
	ID        string    `yaml:"id"`
	User      string    `yaml:"user"`
	StartedAt time.Time `yaml:"started_at"`

	tempDir string
}

// NewID builds a session identifier of the form
// 20060102_150405_xxxxxxxx: start timestamp plus a short random suffix.
func NewID(now time.Time) string {
	return now.Format("20060102_150405") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// LoadOrCreate resumes the user's persisted session in tempDir or starts
// a new one. The second return value reports whether a new session was
// created.
func LoadOrCreate(tempDir, user string, now time.Time) (*Session, bool, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, false, fmt.Errorf("create scratch dir: %w", err)
	}

	statePath := filepath.Join(tempDir, "session_"+user+".yaml")
	data, err := os.ReadFile(statePath)
	if err == nil {
		var s Session
		if yerr := yaml.Unmarshal(data, &s); yerr == nil && s.ID != "" {
			s.tempDir = tempDir
			return &s, false, nil
		}
		// Unreadable state counts as no session; fall through and start over.
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("read session state: %w", err)
	}

	s := &Session{
		ID:        NewID(now),
		User:      user,
		StartedAt: now,
		tempDir:   tempDir,
	}
	out, err := yaml.Marshal(s)
	if err != nil {
		return nil, false, fmt.Errorf("encode session state: %w", err)
	}
	if err := os.WriteFile(statePath, out, 0o644); err != nil {
		return nil, false, fmt.Errorf("write session state: %w", err)
	}
	return s, true, nil
}

// StatePath is the per-user session pointer file.
func (s *Session) StatePath() string {
	return filepath.Join(s.tempDir, "session_"+s.User+".yaml")
}

// MarkerPath is this session's liveness marker file.
func (s *Session) MarkerPath() string {
	return filepath.Join(s.tempDir, "lock_"+s.User+"_"+s.ID+".lock")
}

// PrivateStorePath is this session's private record store.
func (s *Session) PrivateStorePath() string {
	return filepath.Join(s.tempDir, "private_"+s.User+"_"+s.ID+".csv")
}

// Publish writes (or refreshes) the liveness marker. Call it on every
// process start so the marker's mtime tracks actual activity.
func (s *Session) Publish(now time.Time) error {
	body := fmt.Sprintf("session: %s\nuser: %s\nstart: %s\n",
		s.ID, s.User, s.StartedAt.Format("02/01/2006 15:04:05"))
	if err := os.WriteFile(s.MarkerPath(), []byte(body), 0o644); err != nil {
		return fmt.Errorf("publish session marker: %w", err)
	}
	// Keep the state file fresh too so reclamation sees the session as
	// active while it is in use.
	_ = os.Chtimes(s.StatePath(), now, now)
	return nil
}

// ListLive returns the marker file names of other sessions whose markers
// are under the live window. This session's own marker is excluded.
func (s *Session) ListLive(now time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.tempDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan scratch dir: %w", err)
	}

	self := filepath.Base(s.MarkerPath())
	var live []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "lock_") || name == self || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < LiveWindow {
			live = append(live, name)
		}
	}
	return live, nil
}

// ReclaimStale deletes scratch files belonging to this system whose age
// exceeds the reclaim window, regardless of owning session. A simple
// garbage-collection pass for abandoned sessions; run it on process
// start. Returns how many files were removed.
func ReclaimStale(tempDir string, now time.Time, logger *slog.Logger) int {
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !hasScratchPrefix(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= ReclaimWindow {
			continue
		}
		path := filepath.Join(tempDir, e.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("could not reclaim stale scratch file", "path", path, "error", err)
			continue
		}
		logger.Debug("reclaimed stale scratch file", "path", path)
		removed++
	}
	return removed
}

func hasScratchPrefix(name string) bool {
	for _, p := range scratchPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Close removes this session's scratch files: the private store, the
// liveness marker and the state pointer. Missing files are fine.
func (s *Session) Close() error {
	var errs []error
	for _, path := range []string{s.PrivateStorePath(), s.MarkerPath(), s.StatePath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
