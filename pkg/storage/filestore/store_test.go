package filestore

import (
	"testing"
	"time"

	"plancore/pkg/concurrency/lock"
	"plancore/pkg/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	manager := lock.NewManager(lock.Options{})
	t.Cleanup(manager.Dispose)

	store, err := NewStore(t.TempDir(), lock.NewFileLockManager(manager), Options{
		LockTimeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, store.CreatePlan("plan-1", entity.Document{"name": "Test Plan"}))
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Create("plan-1", entity.Requirement, entity.Document{"title": "Login"}, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := store.Get("plan-1", entity.Requirement, id)
	require.NoError(t, err)
	assert.Equal(t, "Login", doc["title"])
	assert.Equal(t, id, doc["id"])
}

func TestCreateRespectsProvidedID(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Create("plan-1", entity.Phase, entity.Document{"id": "phase-7", "name": "Build"}, "")
	require.NoError(t, err)
	assert.Equal(t, "phase-7", id)

	_, err = store.Create("plan-1", entity.Phase, entity.Document{"id": "phase-7"}, "")
	assert.ErrorIs(t, err, ErrExists)
}

func TestUpdateAndDelete(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Create("plan-1", entity.Decision, entity.Document{"title": "Use Go"}, "")
	require.NoError(t, err)

	require.NoError(t, store.Update("plan-1", entity.Decision, id, entity.Document{"title": "Use Go", "status": "accepted"}, ""))

	doc, err := store.Get("plan-1", entity.Decision, id)
	require.NoError(t, err)
	assert.Equal(t, "accepted", doc["status"])

	require.NoError(t, store.Delete("plan-1", entity.Decision, id, ""))

	_, err = store.Get("plan-1", entity.Decision, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Update("plan-1", entity.Decision, id, entity.Document{}, ""), ErrNotFound)
	assert.ErrorIs(t, store.Delete("plan-1", entity.Decision, id, ""), ErrNotFound)
}

func TestExistsAndList(t *testing.T) {
	store := newTestStore(t)

	ok, err := store.Exists("plan-1", entity.Artifact, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	docs, err := store.List("plan-1", entity.Artifact)
	require.NoError(t, err)
	assert.Empty(t, docs)

	for _, name := range []string{"diagram", "spec", "report"} {
		_, err := store.Create("plan-1", entity.Artifact, entity.Document{"name": name}, "")
		require.NoError(t, err)
	}

	docs, err = store.List("plan-1", entity.Artifact)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

func TestUnknownPlanRejected(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create("ghost", entity.Requirement, entity.Document{"title": "x"}, "")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	_, err = store.Get("ghost", entity.Requirement, "r1")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	assert.False(t, store.PlanExists("ghost"))
}

func TestPathEscapingIDsRejected(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create("plan-1", entity.Requirement, entity.Document{"id": "../evil"}, "")
	assert.Error(t, err)

	_, err = store.Get("plan-1", entity.Requirement, "a/b")
	assert.Error(t, err)

	assert.Error(t, store.CreatePlan("..", nil))
}

func TestMutationBlockedByForeignLock(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Create("plan-1", entity.Requirement, entity.Document{"title": "Held"}, "session-a")
	require.NoError(t, err)

	// session-a keeps the entity locked; another session's update must
	// time out instead of proceeding.
	res, err := store.Locks().Acquire(entity.Requirement.String(), id, "session-a")
	require.NoError(t, err)
	require.True(t, res.Acquired)

	err = store.Update("plan-1", entity.Requirement, id, entity.Document{"title": "Stolen"}, "session-b")
	assert.Error(t, err)

	// The owning session itself skips re-acquisition and succeeds.
	require.NoError(t, store.Update("plan-1", entity.Requirement, id, entity.Document{"title": "Mine"}, "session-a"))

	doc, err := store.Get("plan-1", entity.Requirement, id)
	require.NoError(t, err)
	assert.Equal(t, "Mine", doc["title"])
}

func TestStoredDocumentIsDetached(t *testing.T) {
	store := newTestStore(t)

	doc := entity.Document{"title": "original", "tags": []any{"a"}}
	id, err := store.Create("plan-1", entity.Solution, doc, "")
	require.NoError(t, err)

	doc["title"] = "mutated"

	stored, err := store.Get("plan-1", entity.Solution, id)
	require.NoError(t, err)
	assert.Equal(t, "original", stored["title"])
}
