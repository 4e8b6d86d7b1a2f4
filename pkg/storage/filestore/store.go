// Package filestore persists planning entities as one JSON document per
// file, keyed by plan, entity type, and id. It offers no multi-file write
// atomicity; that limitation is why the unit-of-work layer above it can
// only promise best-effort rollback.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"plancore/pkg/concurrency/lock"
	"plancore/pkg/entity"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("entity not found")
	ErrExists       = errors.New("entity already exists")
	ErrPlanNotFound = errors.New("plan not found")
)

const planManifest = "plan.json"

// Store is a generic keyed entity store over a data directory. Mutations
// take the entity's file lock through the FileLockManager unless the
// calling session already holds it; reads are lock-free.
type Store struct {
	dataDir     string
	locks       *lock.FileLockManager
	lockTimeout time.Duration
	log         logr.Logger
}

// Options configures a Store.
type Options struct {
	// LockTimeout bounds how long a mutation waits for an entity lock held
	// by another session.
	LockTimeout time.Duration
	Logger      logr.Logger
}

// NewStore creates the data directory if needed and returns a store backed
// by it.
func NewStore(dataDir string, locks *lock.FileLockManager, opts Options) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	if locks == nil {
		return nil, fmt.Errorf("file lock manager cannot be nil")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Store{
		dataDir:     dataDir,
		locks:       locks,
		lockTimeout: opts.LockTimeout,
		log:         log,
	}, nil
}

// Locks exposes the store's file lock manager so sessions can share it.
func (s *Store) Locks() *lock.FileLockManager {
	return s.locks
}

// CreatePlan writes the plan manifest. The manifest's presence is what
// makes a plan id valid for entity operations.
func (s *Store) CreatePlan(planID string, doc entity.Document) error {
	if err := validateKey(planID); err != nil {
		return fmt.Errorf("invalid plan id: %w", err)
	}
	dir := filepath.Join(s.dataDir, planID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	if doc == nil {
		doc = entity.Document{}
	}
	doc["id"] = planID
	return writeDocument(filepath.Join(dir, planManifest), doc)
}

// PlanExists reports whether the plan manifest is present.
func (s *Store) PlanExists(planID string) bool {
	if validateKey(planID) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(s.dataDir, planID, planManifest))
	return err == nil
}

// Create persists a new entity document. The document's "id" field is
// respected when present (the batch executor pre-generates ids for temp-id
// mapping); otherwise a fresh id is assigned. Returns the entity id.
func (s *Store) Create(planID string, t entity.Type, doc entity.Document, holderID string) (string, error) {
	if err := s.checkPlan(planID); err != nil {
		return "", err
	}
	id := entity.ID(doc)
	if id == "" {
		id = entity.NewID()
	}
	if err := validateKey(id); err != nil {
		return "", fmt.Errorf("invalid entity id: %w", err)
	}

	err := s.withEntityLock(t, id, holderID, func() error {
		path := s.entityPath(planID, t, id)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s %s: %w", t, id, ErrExists)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return err
		}
		stored := entity.Clone(doc)
		stored["id"] = id
		return writeDocument(path, stored)
	})
	if err != nil {
		return "", err
	}
	s.log.V(1).Info("entity created", "plan", planID, "type", t, "id", id)
	return id, nil
}

// Get reads one entity document.
func (s *Store) Get(planID string, t entity.Type, id string) (entity.Document, error) {
	if err := s.checkPlan(planID); err != nil {
		return nil, err
	}
	if err := validateKey(id); err != nil {
		return nil, fmt.Errorf("invalid entity id: %w", err)
	}
	return readDocument(s.entityPath(planID, t, id), t, id)
}

// Exists reports whether an entity document is present.
func (s *Store) Exists(planID string, t entity.Type, id string) (bool, error) {
	if err := s.checkPlan(planID); err != nil {
		return false, err
	}
	if err := validateKey(id); err != nil {
		return false, fmt.Errorf("invalid entity id: %w", err)
	}
	_, err := os.Stat(s.entityPath(planID, t, id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// List returns all documents of one entity type in a plan.
func (s *Store) List(planID string, t entity.Type) ([]entity.Document, error) {
	if err := s.checkPlan(planID); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.dataDir, planID, t.String())
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	docs := make([]entity.Document, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		doc, err := readDocument(filepath.Join(dir, e.Name()), t, id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Update overwrites an existing entity document.
func (s *Store) Update(planID string, t entity.Type, id string, doc entity.Document, holderID string) error {
	if err := s.checkPlan(planID); err != nil {
		return err
	}
	if err := validateKey(id); err != nil {
		return fmt.Errorf("invalid entity id: %w", err)
	}

	err := s.withEntityLock(t, id, holderID, func() error {
		path := s.entityPath(planID, t, id)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%s %s: %w", t, id, ErrNotFound)
			}
			return err
		}
		stored := entity.Clone(doc)
		stored["id"] = id
		return writeDocument(path, stored)
	})
	if err != nil {
		return err
	}
	s.log.V(1).Info("entity updated", "plan", planID, "type", t, "id", id)
	return nil
}

// Delete removes an entity document.
func (s *Store) Delete(planID string, t entity.Type, id string, holderID string) error {
	if err := s.checkPlan(planID); err != nil {
		return err
	}
	if err := validateKey(id); err != nil {
		return fmt.Errorf("invalid entity id: %w", err)
	}

	err := s.withEntityLock(t, id, holderID, func() error {
		path := s.entityPath(planID, t, id)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%s %s: %w", t, id, ErrNotFound)
			}
			return err
		}
		return os.Remove(path)
	})
	if err != nil {
		return err
	}
	s.log.V(1).Info("entity deleted", "plan", planID, "type", t, "id", id)
	return nil
}

// withEntityLock runs fn under the entity's file lock. When the calling
// session already holds the lock the function runs directly; this is the
// redundant-acquisition skip repositories rely on. Anonymous callers get a
// transient holder for the duration of the call.
func (s *Store) withEntityLock(t entity.Type, id, holderID string, fn func() error) error {
	key := lock.ResourceKey(t.String(), id)
	if holderID != "" && s.locks.HeldByUs(key, holderID) {
		return fn()
	}

	holder := holderID
	if holder == "" {
		holder = uuid.NewString()
	}
	res, err := s.locks.Acquire(t.String(), id, holder, lock.WithAcquireTimeout(s.lockTimeout))
	if err != nil {
		return err
	}
	if !res.Acquired {
		return fmt.Errorf("could not lock %s: %s", key, res.Reason)
	}
	defer func() { _ = s.locks.Release(t.String(), id, holder) }()
	return fn()
}

func (s *Store) checkPlan(planID string) error {
	if err := validateKey(planID); err != nil {
		return fmt.Errorf("invalid plan id: %w", err)
	}
	if !s.PlanExists(planID) {
		return fmt.Errorf("plan %s: %w", planID, ErrPlanNotFound)
	}
	return nil
}

func (s *Store) entityPath(planID string, t entity.Type, id string) string {
	return filepath.Join(s.dataDir, planID, t.String(), id+".json")
}

// validateKey rejects ids that could escape the data directory.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return fmt.Errorf("id contains illegal path characters: %q", key)
	}
	return nil
}

func writeDocument(path string, doc entity.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func readDocument(path string, t entity.Type, id string) (entity.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s %s: %w", t, id, ErrNotFound)
		}
		return nil, err
	}
	var doc entity.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt document %s: %w", path, err)
	}
	return doc, nil
}
