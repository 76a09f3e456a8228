// Package recordstore provides the generic, per-type persistent record
// store described in spec.md §4.2: one JSON file per record, atomic
// writes, and per-ID single-flight serialisation of concurrent puts.
package recordstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/gitgovernance/core/internal/envelope"
	"github.com/gitgovernance/core/internal/records"
)

// NotFound is returned by Get when no record exists for the given ID.
type NotFound struct{ ID string }

func (e *NotFound) Error() string { return fmt.Sprintf("record not found: %s", e.ID) }

// CorruptRecord is returned when a record file on disk cannot be parsed
// as a valid envelope.
type CorruptRecord struct {
	ID    string
	Cause error
}

func (e *CorruptRecord) Error() string { return fmt.Sprintf("corrupt record %s: %v", e.ID, e.Cause) }
func (e *CorruptRecord) Unwrap() error { return e.Cause }

// InvalidEnvelope is returned when a record's header is structurally
// invalid (missing type, no signatures, etc).
type InvalidEnvelope struct{ Reason string }

func (e *InvalidEnvelope) Error() string { return fmt.Sprintf("invalid envelope: %s", e.Reason) }

// IoError wraps an underlying filesystem error with store context.
type IoError struct {
	Op    string
	Cause error
}

func (e *IoError) Error() string { return fmt.Sprintf("store io error during %s: %v", e.Op, e.Cause) }
func (e *IoError) Unwrap() error { return e.Cause }

// IDEncoder maps a logical record ID to a filename-safe string. The
// default passthrough encoder is used by every store except actors,
// whose scoped IDs (e.g. "agent:scribe:cursor") encode ":" as "--" so
// they remain valid filenames on every supported filesystem.
type IDEncoder interface {
	Encode(id string) string
	Decode(filename string) string
}

// PassthroughEncoder is the identity IDEncoder.
type PassthroughEncoder struct{}

func (PassthroughEncoder) Encode(id string) string       { return id }
func (PassthroughEncoder) Decode(filename string) string { return filename }

// ScopedEncoder encodes ":" as "--" for actor/agent IDs that carry a
// scope prefix (e.g. "agent:scribe:cursor").
type ScopedEncoder struct{}

func (ScopedEncoder) Encode(id string) string {
	return strings.ReplaceAll(id, ":", "--")
}

func (ScopedEncoder) Decode(filename string) string {
	return strings.ReplaceAll(filename, "--", ":")
}

// Store is a generic, per-type persistent store of {header, payload}
// records rooted at BasePath, one JSON file per record.
type Store[T any] struct {
	basePath string
	encoder  IDEncoder
	recType  records.RecordType
	resolve  envelope.ResolvePublicKey

	mu    sync.RWMutex
	cache map[string]*records.Record // invalidated on Put/Delete

	flight singleflight.Group // serialises concurrent Put calls per ID

	log *logrus.Entry
}

// New constructs a Store rooted at basePath for the given record type.
// resolvePub is consulted to verify signatures on Put; it is typically
// backed by the identity layer's actor registry.
func New[T any](basePath string, recType records.RecordType, encoder IDEncoder, resolvePub envelope.ResolvePublicKey) *Store[T] {
	if encoder == nil {
		encoder = PassthroughEncoder{}
	}
	return &Store[T]{
		basePath: basePath,
		encoder:  encoder,
		recType:  recType,
		resolve:  resolvePub,
		cache:    make(map[string]*records.Record),
		log:      logrus.WithFields(logrus.Fields{"component": "recordstore", "type": string(recType)}),
	}
}

func (s *Store[T]) path(id string) string {
	return filepath.Join(s.basePath, s.encoder.Encode(id)+".json")
}

// List enumerates record IDs present in the store directory. Order is
// unspecified but stable within a single call.
func (s *Store[T]) List() ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &IoError{Op: "list", Cause: err}
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		ids = append(ids, s.encoder.Decode(name))
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether a record with the given ID is present.
func (s *Store[T]) Exists(id string) bool {
	_, err := os.Stat(s.path(id))
	return err == nil
}

// Get loads a record by ID, consulting the in-memory cache first.
// Returns *NotFound if absent, *CorruptRecord if the file cannot be
// parsed.
func (s *Store[T]) Get(id string) (*records.Record, error) {
	s.mu.RLock()
	if cached, ok := s.cache[id]; ok {
		s.mu.RUnlock()
		clone := cloneRecord(cached)
		return clone, nil
	}
	s.mu.RUnlock()

	raw, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFound{ID: id}
		}
		return nil, &IoError{Op: "get", Cause: err}
	}

	rec, payload, err := decodeRecord[T](raw)
	if err != nil {
		return nil, &CorruptRecord{ID: id, Cause: err}
	}
	rec.Payload = payload

	s.mu.Lock()
	s.cache[id] = cloneRecord(rec)
	s.mu.Unlock()

	return rec, nil
}

// GetTyped is a convenience wrapper around Get that returns the decoded
// payload directly.
func (s *Store[T]) GetTyped(id string) (*T, records.Header, error) {
	rec, err := s.Get(id)
	if err != nil {
		return nil, records.Header{}, err
	}
	payload, ok := rec.Payload.(T)
	if !ok {
		return nil, records.Header{}, &CorruptRecord{ID: id, Cause: fmt.Errorf("payload type mismatch")}
	}
	return &payload, rec.Header, nil
}

// Put atomically persists rec under id, after validating that the
// declared payloadChecksum matches the canonical payload hash and that
// every signature verifies. Concurrent Put calls for the same ID on one
// process are serialised.
func (s *Store[T]) Put(id string, rec records.Record) error {
	_, err, _ := s.flight.Do(id, func() (any, error) {
		checksum, err := envelope.ComputeChecksum(rec.Payload)
		if err != nil {
			return nil, err
		}
		if checksum != rec.Header.PayloadChecksum {
			return nil, &envelope.ChecksumMismatch{Expected: rec.Header.PayloadChecksum, Actual: checksum}
		}
		if len(rec.Header.Signatures) == 0 {
			return nil, &InvalidEnvelope{Reason: "no signatures present"}
		}
		if s.resolve != nil {
			if err := envelope.Verify(rec, s.resolve); err != nil {
				return nil, err
			}
		}

		raw, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return nil, err
		}

		if err := s.atomicWrite(s.path(id), raw); err != nil {
			return nil, &IoError{Op: "put", Cause: err}
		}

		s.mu.Lock()
		s.cache[id] = cloneRecord(&rec)
		s.mu.Unlock()

		s.log.WithField("id", id).Debug("record written")
		return nil, nil
	})
	return err
}

// Delete removes a record; it is idempotent (no error if absent).
func (s *Store[T]) Delete(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return &IoError{Op: "delete", Cause: err}
	}

	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
	return nil
}

// atomicWrite writes data to path via write-temp-then-rename so readers
// never observe a torn write.
func (s *Store[T]) atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// CleanOrphanedTemp removes any leftover .tmp files from a previous
// torn write (e.g. after a crash between CreateTemp and Rename).
func (s *Store[T]) CleanOrphanedTemp() error {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &IoError{Op: "clean-orphans", Cause: err}
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp") {
			_ = os.Remove(filepath.Join(s.basePath, e.Name()))
		}
	}
	return nil
}

func cloneRecord(rec *records.Record) *records.Record {
	if rec == nil {
		return nil
	}
	cp := *rec
	cp.Header.Signatures = append([]records.Signature(nil), rec.Header.Signatures...)
	return &cp
}

func decodeRecord[T any](raw []byte) (*records.Record, T, error) {
	var zero T
	var envl struct {
		Header  records.Header  `json:"header"`
		Payload T               `json:"payload"`
	}
	if err := json.Unmarshal(raw, &envl); err != nil {
		return nil, zero, err
	}
	return &records.Record{Header: envl.Header}, envl.Payload, nil
}
