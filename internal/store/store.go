// Package store owns the on-disk representation of credential sets and
// character tokens.
//
// SECURITY: the store file holds refresh tokens. Files are created with
// 0600 and the containing directory with 0700. Token values are never
// logged; log records carry character ids and credential aliases only.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store persists Snapshots to a single JSON file. The file is always a
// complete snapshot: saves go through a temp file in the same directory
// followed by a rename, so a crash mid-write leaves the prior snapshot
// visible.
type Store struct {
	// mu serializes load-modify-save sequences within this process. Callers
	// running a multi-step mutation (TokenManager's batch refresh) hold it
	// across the whole sequence via Lock/Unlock.
	mu sync.Mutex

	path   string
	logger *slog.Logger
}

// New creates a Store backed by the file at path. The file is not created
// until the first Save.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the store file location.
func (s *Store) Path() string {
	return s.path
}

// Lock serializes a load-modify-save sequence against other in-process
// callers. Cross-process writers are not coordinated; the atomic rename on
// save bounds that case to last-writer-wins.
func (s *Store) Lock() {
	s.mu.Lock()
}

// Unlock releases the store lock.
func (s *Store) Unlock() {
	s.mu.Unlock()
}

// Load reads the backing file. A missing file is the first-run case and
// returns an empty snapshot; a file that exists but does not parse returns
// ErrStoreCorrupt.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewSnapshot(), nil
		}
		return nil, fmt.Errorf("failed to read store file %s: %w", s.path, err)
	}

	snapshot, err := parseSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("store file %s: %w: %w", s.path, ErrStoreCorrupt, err)
	}

	return snapshot, nil
}

// Save writes the full snapshot atomically.
func (s *Store) Save(snapshot *Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	return s.writeAtomic(s.path, data)
}

// writeAtomic writes data to a temp file next to dst and renames it into
// place. The rename is what makes a partial write unobservable.
func (s *Store) writeAtomic(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := tmp.Chmod(0600); err != nil {
		cleanup()
		return fmt.Errorf("failed to set store file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close store file: %w", err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace store file: %w", err)
	}

	return nil
}

// Backup copies the whole store file to destination. The copy is
// byte-identical to the live store.
func (s *Store) Backup(destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read store for backup: %w", err)
	}

	if err := s.writeAtomic(destination, data); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	s.logger.Info("Auth store backed up",
		"store", s.path,
		"backup", destination,
	)
	return nil
}

// Restore replaces the live store with the contents of source. The source
// must parse as a valid snapshot; the live store is not touched until
// validation succeeds.
func (s *Store) Restore(source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("failed to read restore source: %w", err)
	}

	if _, err := parseSnapshot(data); err != nil {
		return fmt.Errorf("restore source %s: %w: %w", source, ErrValidation, err)
	}

	if err := s.writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to restore store: %w", err)
	}

	s.logger.Info("Auth store restored",
		"store", s.path,
		"source", source,
	)
	return nil
}

// AddCredential adds a credential set under the store lock. Fails with
// ErrDuplicateIdentifier if the client_id or alias is already present, in
// which case the persisted store is unchanged.
func (s *Store) AddCredential(cred CredentialSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.Load()
	if err != nil {
		return err
	}
	if err := snapshot.AddCredential(cred); err != nil {
		return err
	}
	if err := s.Save(snapshot); err != nil {
		return err
	}

	s.logger.Info("Credential added",
		"client_id", cred.ClientID,
		"alias", cred.Alias,
	)
	return nil
}

// RemoveCredential removes a credential and all of its tokens.
func (s *Store) RemoveCredential(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.Load()
	if err != nil {
		return err
	}
	if err := snapshot.RemoveCredential(ref); err != nil {
		return err
	}
	if err := s.Save(snapshot); err != nil {
		return err
	}

	s.logger.Info("Credential removed", "ref", ref)
	return nil
}

// UpsertToken inserts or replaces one character token.
func (s *Store) UpsertToken(token CharacterToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.Load()
	if err != nil {
		return err
	}
	if err := snapshot.UpsertToken(token); err != nil {
		return err
	}
	if err := s.Save(snapshot); err != nil {
		return err
	}

	s.logger.Info("Character token stored",
		"credential", token.OwningCredential,
		"character_id", token.CharacterID,
		"character_name", token.CharacterName,
		"expires_at", token.ExpiresAt,
	)
	return nil
}

// RemoveCharacter removes one character's token under the referenced
// credential.
func (s *Store) RemoveCharacter(ref string, characterID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.Load()
	if err != nil {
		return err
	}
	if err := snapshot.RemoveCharacter(ref, characterID); err != nil {
		return err
	}
	if err := s.Save(snapshot); err != nil {
		return err
	}

	s.logger.Info("Character token removed",
		"credential", ref,
		"character_id", characterID,
	)
	return nil
}

// parseSnapshot decodes and shape-checks snapshot JSON. A foreign JSON file
// without the expected sections is not accepted as a store.
func parseSnapshot(data []byte) (*Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	if snapshot.Credentials == nil && snapshot.Tokens == nil {
		return nil, errors.New("missing credentials and tokens sections")
	}
	if snapshot.Credentials == nil {
		snapshot.Credentials = []CredentialSet{}
	}
	if snapshot.Tokens == nil {
		snapshot.Tokens = []CharacterToken{}
	}

	for i := range snapshot.Credentials {
		if snapshot.Credentials[i].ClientID == "" {
			return nil, fmt.Errorf("credential %d has no client_id", i)
		}
	}
	for i := range snapshot.Tokens {
		if snapshot.Tokens[i].OwningCredential == "" || snapshot.Tokens[i].CharacterID == 0 {
			return nil, fmt.Errorf("token %d has no owning credential or character id", i)
		}
	}

	return &snapshot, nil
}
