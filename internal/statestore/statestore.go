// internal/statestore/statestore.go

// Package statestore persists per-platform browser session state to disk. Each
// profile owns exactly one profile directory and one sibling state file inside
// the store's base directory; isolation between profiles is purely file-path
// based, so independent profiles never contend on a lock.
package statestore

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNotFound means no state has ever been saved for the profile.
	ErrNotFound = errors.New("session state not found")
	// ErrCorruptState means a state file exists but cannot be used. It is
	// deliberately distinct from ErrNotFound so callers can decide to proceed
	// with a fresh state while flagging the damage.
	ErrCorruptState = errors.New("session state corrupt")
)

const stateFileSuffix = "_state.json"

// Store reads and writes session state files under a single base directory.
type Store struct {
	dir string
	log *zap.Logger
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %q: %w", dir, err)
	}
	return &Store{dir: dir, log: logger.Named("statestore")}, nil
}

// Dir returns the store's base directory.
func (s *Store) Dir() string { return s.dir }

// ProfileID derives the stable identifier for a (platform, site) pair. The
// layout matches {platform}_{md5(identity)[:8]} so profiles saved by earlier
// versions keep resolving to the same files.
func ProfileID(platform, site string) string {
	identity := platform
	if site != "" {
		identity = platform + "_" + site
	}
	sum := md5.Sum([]byte(identity))
	return platform + "_" + hex.EncodeToString(sum[:])[:8]
}

// ProfileDir returns the browser user-data directory for a profile.
func (s *Store) ProfileDir(profileID string) string {
	return filepath.Join(s.dir, profileID)
}

// StatePath returns the state-file path for a profile.
func (s *Store) StatePath(profileID string) string {
	return filepath.Join(s.dir, profileID+stateFileSuffix)
}

// Save serializes the state to the profile's state file. The write goes through
// a temp file and rename so a reader can never observe a partial state.
func (s *Store) Save(profileID string, state *schemas.SessionState) error {
	if state == nil {
		return fmt.Errorf("nil session state for profile %s", profileID)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state for profile %s: %w", profileID, err)
	}

	tmp, err := os.CreateTemp(s.dir, profileID+".state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file for profile %s: %w", profileID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state for profile %s: %w", profileID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to flush state for profile %s: %w", profileID, err)
	}
	if err := os.Rename(tmpName, s.StatePath(profileID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit state for profile %s: %w", profileID, err)
	}

	s.log.Debug("Session state saved.",
		zap.String("profile_id", profileID),
		zap.Int("cookies", len(state.Cookies)))
	return nil
}

// Load deserializes the profile's state file. A missing file yields ErrNotFound;
// an unreadable or structurally invalid file yields ErrCorruptState.
func (s *Store) Load(profileID string) (*schemas.SessionState, error) {
	data, err := os.ReadFile(s.StatePath(profileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("profile %s: %w", profileID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read state for profile %s: %w", profileID, err)
	}

	var state schemas.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("profile %s: %w: %v", profileID, ErrCorruptState, err)
	}
	// The storage maps are required fields of the format; a file without them
	// was not written by this store.
	if state.Cookies == nil || state.LocalStorage == nil || state.SessionStorage == nil {
		return nil, fmt.Errorf("profile %s: %w: missing required fields", profileID, ErrCorruptState)
	}
	return &state, nil
}

// List enumerates every known state file. Unreadable entries are flagged as
// damaged and skipped rather than failing the whole listing.
func (s *Store) List() ([]schemas.StateSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var summaries []schemas.StateSummary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, stateFileSuffix) {
			continue
		}
		profileID := strings.TrimSuffix(name, stateFileSuffix)

		state, err := s.Load(profileID)
		if err != nil {
			s.log.Warn("Skipping unreadable state file.",
				zap.String("profile_id", profileID), zap.Error(err))
			summaries = append(summaries, schemas.StateSummary{
				ProfileID: profileID,
				Damaged:   true,
			})
			continue
		}
		summaries = append(summaries, schemas.StateSummary{
			ProfileID:           profileID,
			Platform:            state.Platform,
			Site:                state.SiteOrEmpty(),
			SavedAt:             state.SavedAt,
			CookieCount:         len(state.Cookies),
			LocalStorageCount:   len(state.LocalStorage),
			SessionStorageCount: len(state.SessionStorage),
		})
	}
	return summaries, nil
}

// Clear removes the profile's state file and browser profile directory.
// Clearing a profile that does not exist is a no-op success.
func (s *Store) Clear(profileID string) error {
	if err := os.Remove(s.StatePath(profileID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file for profile %s: %w", profileID, err)
	}
	if err := os.RemoveAll(s.ProfileDir(profileID)); err != nil {
		return fmt.Errorf("failed to remove profile directory for profile %s: %w", profileID, err)
	}
	s.log.Info("Cleared persisted state.", zap.String("profile_id", profileID))
	return nil
}

// Touch updates the save timestamp. Kept here so every writer stamps states the
// same way.
func Touch(state *schemas.SessionState) {
	state.SavedAt = time.Now().UTC()
}
