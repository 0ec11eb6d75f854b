// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/feedbridge/lib/coordinator"
	"github.com/bureau-foundation/feedbridge/lib/ref"
	"github.com/bureau-foundation/feedbridge/lib/sealed"
	"github.com/bureau-foundation/feedbridge/lib/secret"
)

// Data is the persisted session. It is never mutated after a login;
// a fresh login replaces it.
type Data struct {
	HomeserverURL string `json:"homeserver_url"`
	UserID        string `json:"user_id"`
	DeviceID      string `json:"device_id,omitempty"`
	AccessToken   string `json:"access_token"`
}

// validate checks the fields a restore depends on.
func (d *Data) validate() error {
	if d.HomeserverURL == "" {
		return errors.New("missing homeserver_url")
	}
	if d.AccessToken == "" {
		return errors.New("missing access_token")
	}
	if _, err := ref.ParseUserID(d.UserID); err != nil {
		return fmt.Errorf("user_id: %w", err)
	}
	return nil
}

// Store persists one session. Load returns (nil, nil) when no session
// has been saved. Errors carry coordinator kinds: io for unreadable
// files, serialization for malformed contents, session_store for
// failed writes.
type Store interface {
	Load() (*Data, error)
	Save(data *Data) error
	Remove() error
}

// FileStore keeps the session as JSON in one file.
type FileStore struct {
	path string
}

// NewFileStore returns a store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the session file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() (*Data, error) {
	contents, err := readOptional(s.path)
	if contents == nil || err != nil {
		return nil, err
	}
	defer secret.Zero(contents)
	return decode(s.path, contents)
}

func (s *FileStore) Save(data *Data) error {
	contents, err := json.Marshal(data)
	if err != nil {
		return coordinator.NewError(coordinator.KindSerialization, "save session", err)
	}
	defer secret.Zero(contents)
	if err := writeFileAtomic(s.path, contents); err != nil {
		return coordinator.NewError(coordinator.KindSessionStore, "save session", err)
	}
	return nil
}

func (s *FileStore) Remove() error {
	return removeOptional(s.path)
}

// SealedStore keeps the session JSON encrypted to an age identity.
// The identity is created on first save.
type SealedStore struct {
	path         string
	identityPath string
}

// NewSealedStore returns a store whose ciphertext lives at path and
// whose identity lives in cryptoStore.
func NewSealedStore(path, cryptoStore string) *SealedStore {
	return &SealedStore{path: path, identityPath: filepath.Join(cryptoStore, "session.age-key")}
}

func (s *SealedStore) Load() (*Data, error) {
	ciphertext, err := readOptional(s.path)
	if ciphertext == nil || err != nil {
		return nil, err
	}

	keypair, err := sealed.LoadOrGenerateKeypair(s.identityPath)
	if err != nil {
		return nil, coordinator.NewError(coordinator.KindIO, "load session", err)
	}
	defer keypair.Close()

	plaintext, err := sealed.Decrypt(ciphertext, keypair.PrivateKey)
	if err != nil {
		return nil, coordinator.NewError(coordinator.KindSerialization, "load session",
			fmt.Errorf("unsealing %s: %w", s.path, err))
	}
	defer plaintext.Close()
	return decode(s.path, plaintext.Bytes())
}

func (s *SealedStore) Save(data *Data) error {
	keypair, err := sealed.LoadOrGenerateKeypair(s.identityPath)
	if err != nil {
		return coordinator.NewError(coordinator.KindSessionStore, "save session", err)
	}
	defer keypair.Close()

	plaintext, err := json.Marshal(data)
	if err != nil {
		return coordinator.NewError(coordinator.KindSerialization, "save session", err)
	}
	ciphertext, err := sealed.Encrypt(plaintext, keypair.PublicKey)
	secret.Zero(plaintext)
	if err != nil {
		return coordinator.NewError(coordinator.KindSessionStore, "save session", err)
	}
	if err := writeFileAtomic(s.path, ciphertext); err != nil {
		return coordinator.NewError(coordinator.KindSessionStore, "save session", err)
	}
	return nil
}

// Remove deletes the ciphertext. The identity is kept so a later save
// reuses it.
func (s *SealedStore) Remove() error {
	return removeOptional(s.path)
}

func decode(path string, contents []byte) (*Data, error) {
	var data Data
	if err := json.Unmarshal(contents, &data); err != nil {
		return nil, coordinator.NewError(coordinator.KindSerialization, "load session",
			fmt.Errorf("parsing %s: %w", path, err))
	}
	if err := data.validate(); err != nil {
		return nil, coordinator.NewError(coordinator.KindSerialization, "load session",
			fmt.Errorf("session file %s: %w", path, err))
	}
	return &data, nil
}

// readOptional returns (nil, nil) when path does not exist.
func readOptional(path string) ([]byte, error) {
	contents, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, coordinator.NewError(coordinator.KindIO, "load session",
			fmt.Errorf("reading %s: %w", path, err))
	}
	return contents, nil
}

func removeOptional(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return coordinator.NewError(coordinator.KindIO, "remove session", err)
	}
	return nil
}

// writeFileAtomic replaces path with contents (mode 0600) via a
// temporary file and rename.
func writeFileAtomic(path string, contents []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", temporaryPath, err)
	}
	if _, err := file.Write(contents); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing %s: %w", temporaryPath, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing %s: %w", temporaryPath, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}
	return nil
}
