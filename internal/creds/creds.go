// Package creds manages service account keys: validated on add, stored
// under a directory, one marked active for scans.
package creds

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// keyFields is the subset of a service account key file we validate
// and surface. Private material is stored but never exposed in
// listings.
type keyFields struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
}

// Credential is the listing view of one stored key.
type Credential struct {
	Name        string    `json:"name"`
	ProjectID   string    `json:"project_id"`
	ClientEmail string    `json:"client_email"`
	AddedAt     time.Time `json:"added_at"`
	Active      bool      `json:"active"`
}

type metaFile struct {
	Active      string                `json:"active"`
	Credentials map[string]Credential `json:"credentials"`
}

// Manager stores keys as <name>.json next to a meta.json index.
type Manager struct {
	mu  sync.Mutex
	fs  afero.Fs
	dir string
}

// NewManager opens (creating if needed) a credential directory.
func NewManager(fs afero.Fs, dir string) (*Manager, error) {
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating credential dir: %w", err)
	}
	return &Manager{fs: fs, dir: dir}, nil
}

// ValidateKey checks that raw parses as a service account key with
// every required field present.
func ValidateKey(raw []byte) error {
	var key keyFields
	if err := json.Unmarshal(raw, &key); err != nil {
		return fmt.Errorf("key is not valid JSON: %w", err)
	}
	if key.Type != "service_account" {
		return fmt.Errorf("key type is %q, want service_account", key.Type)
	}
	missing := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("key is missing %s", field)
		}
		return nil
	}
	for _, check := range []error{
		missing("project_id", key.ProjectID),
		missing("private_key_id", key.PrivateKeyID),
		missing("private_key", key.PrivateKey),
		missing("client_email", key.ClientEmail),
	} {
		if check != nil {
			return check
		}
	}
	return nil
}

// Add validates and stores a key under name. The first key added
// becomes active automatically.
func (m *Manager) Add(name string, raw []byte) (Credential, error) {
	if name == "" {
		return Credential{}, fmt.Errorf("credential name required")
	}
	if err := ValidateKey(raw); err != nil {
		return Credential{}, err
	}
	var key keyFields
	_ = json.Unmarshal(raw, &key)

	m.mu.Lock()
	defer m.mu.Unlock()

	meta, err := m.readMeta()
	if err != nil {
		return Credential{}, err
	}
	if _, exists := meta.Credentials[name]; exists {
		return Credential{}, fmt.Errorf("credential %q already exists", name)
	}

	if err := afero.WriteFile(m.fs, m.keyPath(name), raw, 0o600); err != nil {
		return Credential{}, fmt.Errorf("storing key: %w", err)
	}

	cred := Credential{
		Name:        name,
		ProjectID:   key.ProjectID,
		ClientEmail: key.ClientEmail,
		AddedAt:     time.Now().UTC(),
	}
	meta.Credentials[name] = cred
	if meta.Active == "" {
		meta.Active = name
	}
	if err := m.writeMeta(meta); err != nil {
		return Credential{}, err
	}
	cred.Active = meta.Active == name
	return cred, nil
}

// List returns the stored credentials sorted by name.
func (m *Manager) List() ([]Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, err := m.readMeta()
	if err != nil {
		return nil, err
	}
	out := make([]Credential, 0, len(meta.Credentials))
	for _, c := range meta.Credentials {
		c.Active = c.Name == meta.Active
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Activate marks name as the credential scans use.
func (m *Manager) Activate(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, err := m.readMeta()
	if err != nil {
		return err
	}
	if _, ok := meta.Credentials[name]; !ok {
		return fmt.Errorf("credential %q not found", name)
	}
	meta.Active = name
	return m.writeMeta(meta)
}

// ActiveKey returns the active credential and its key material, or
// os.ErrNotExist when nothing is active.
func (m *Manager) ActiveKey() (Credential, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, err := m.readMeta()
	if err != nil {
		return Credential{}, nil, err
	}
	if meta.Active == "" {
		return Credential{}, nil, os.ErrNotExist
	}
	cred, ok := meta.Credentials[meta.Active]
	if !ok {
		return Credential{}, nil, os.ErrNotExist
	}
	raw, err := afero.ReadFile(m.fs, m.keyPath(meta.Active))
	if err != nil {
		return Credential{}, nil, fmt.Errorf("reading active key: %w", err)
	}
	cred.Active = true
	return cred, raw, nil
}

// ActiveKeyPath returns the path of the active key file, for SDK
// clients that want a file rather than bytes.
func (m *Manager) ActiveKeyPath() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, err := m.readMeta()
	if err != nil {
		return "", err
	}
	if meta.Active == "" {
		return "", os.ErrNotExist
	}
	return m.keyPath(meta.Active), nil
}

// Rename moves a credential and its key file to a new name. The
// active marker follows the rename.
func (m *Manager) Rename(oldName, newName string) error {
	if newName == "" {
		return fmt.Errorf("credential name required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	meta, err := m.readMeta()
	if err != nil {
		return err
	}
	cred, ok := meta.Credentials[oldName]
	if !ok {
		return fmt.Errorf("credential %q not found", oldName)
	}
	if _, exists := meta.Credentials[newName]; exists {
		return fmt.Errorf("credential %q already exists", newName)
	}
	if err := m.fs.Rename(m.keyPath(oldName), m.keyPath(newName)); err != nil {
		return fmt.Errorf("renaming key: %w", err)
	}
	cred.Name = newName
	delete(meta.Credentials, oldName)
	meta.Credentials[newName] = cred
	if meta.Active == oldName {
		meta.Active = newName
	}
	return m.writeMeta(meta)
}

// Remove deletes a credential and its key material. Removing the
// active credential leaves no credential active.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, err := m.readMeta()
	if err != nil {
		return err
	}
	if _, ok := meta.Credentials[name]; !ok {
		return fmt.Errorf("credential %q not found", name)
	}
	if err := m.fs.Remove(m.keyPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing key: %w", err)
	}
	delete(meta.Credentials, name)
	if meta.Active == name {
		meta.Active = ""
	}
	return m.writeMeta(meta)
}

func (m *Manager) keyPath(name string) string {
	return filepath.Join(m.dir, name+".json")
}

func (m *Manager) metaPath() string {
	return filepath.Join(m.dir, "meta.json")
}

func (m *Manager) readMeta() (metaFile, error) {
	meta := metaFile{Credentials: make(map[string]Credential)}
	data, err := afero.ReadFile(m.fs, m.metaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return meta, nil
		}
		return meta, fmt.Errorf("reading credential index: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decoding credential index: %w", err)
	}
	if meta.Credentials == nil {
		meta.Credentials = make(map[string]Credential)
	}
	return meta, nil
}

func (m *Manager) writeMeta(meta metaFile) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credential index: %w", err)
	}
	tmp := m.metaPath() + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing credential index: %w", err)
	}
	return m.fs.Rename(tmp, m.metaPath())
}
