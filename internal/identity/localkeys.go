package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileKeyProvider stores each actor's private key material at
// actors/<id>.key, next to actors/<id>.json, per spec.md §6.
type FileKeyProvider struct {
	root string // .gitgov/actors
}

// NewFileKeyProvider roots a FileKeyProvider at .gitgov/actors under
// gitgovRoot.
func NewFileKeyProvider(gitgovRoot string) *FileKeyProvider {
	return &FileKeyProvider{root: filepath.Join(gitgovRoot, "actors")}
}

func (p *FileKeyProvider) keyPath(actorID string) string {
	return filepath.Join(p.root, actorID+".key")
}

// GetPrivateKey reads and base64-decodes the key file for actorID.
func (p *FileKeyProvider) GetPrivateKey(actorID string) (ed25519.PrivateKey, error) {
	blob, err := os.ReadFile(p.keyPath(actorID))
	if err != nil {
		return nil, fmt.Errorf("reading private key for %s: %w", actorID, err)
	}
	raw, err := base64.StdEncoding.DecodeString(string(blob))
	if err != nil {
		return nil, fmt.Errorf("decoding private key for %s: %w", actorID, err)
	}
	return ed25519.PrivateKey(raw), nil
}

// StorePrivateKey writes key as base64 to actors/<id>.key, atomically.
func (p *FileKeyProvider) StorePrivateKey(actorID string, key ed25519.PrivateKey) error {
	if err := os.MkdirAll(p.root, 0o700); err != nil {
		return fmt.Errorf("creating actors directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	return atomicWriteFile(p.keyPath(actorID), []byte(encoded), 0o600)
}

// sessionFile is the on-disk shape of session.json: the current actor
// plus a last-session marker, per spec.md §6.
type sessionFile struct {
	CurrentActor string `json:"currentActor"`
	LastSession  int64  `json:"lastSession"`
}

// FileSessionManager persists the current actor to .gitgov/session.json.
type FileSessionManager struct {
	path  string
	clock func() time.Time
}

// NewFileSessionManager roots a FileSessionManager at
// .gitgov/session.json under gitgovRoot.
func NewFileSessionManager(gitgovRoot string) *FileSessionManager {
	return &FileSessionManager{
		path:  filepath.Join(gitgovRoot, "session.json"),
		clock: time.Now,
	}
}

// GetCurrentActor reads the current actor from session.json. A missing
// file or empty currentActor both report ok=false.
func (s *FileSessionManager) GetCurrentActor() (string, bool) {
	blob, err := os.ReadFile(s.path)
	if err != nil {
		return "", false
	}
	var sf sessionFile
	if err := json.Unmarshal(blob, &sf); err != nil {
		return "", false
	}
	if sf.CurrentActor == "" {
		return "", false
	}
	return sf.CurrentActor, true
}

// SetCurrentActor writes actorID as the current actor, stamping
// lastSession with the current time.
func (s *FileSessionManager) SetCurrentActor(actorID string) error {
	sf := sessionFile{CurrentActor: actorID, LastSession: s.clock().Unix()}
	blob, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating .gitgov directory: %w", err)
	}
	return atomicWriteFile(s.path, blob, 0o644)
}

func atomicWriteFile(dst string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

var (
	_ KeyProvider    = (*FileKeyProvider)(nil)
	_ SessionManager = (*FileSessionManager)(nil)
)
