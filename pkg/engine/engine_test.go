package engine

import (
	"testing"
	"time"

	"plancore/pkg/batch"
	"plancore/pkg/config"
	"plancore/pkg/concurrency/uow"
	"plancore/pkg/entity"
	"plancore/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Locking.AcquireTimeout = config.Duration(500 * time.Millisecond)
	cfg.Logging.Level = logging.LevelNone

	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngineEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreatePlan("p1", entity.Document{"name": "Roadmap"}))

	// Session work through a unit of work.
	u := e.NewUnitOfWork()
	defer u.Dispose()

	var reqID string
	err := u.Execute(func(u *uow.UnitOfWork) error {
		repo, err := u.Repository(entity.Requirement)
		if err != nil {
			return err
		}
		reqID, err = repo.Create("p1", entity.Document{"title": "Auth"})
		return err
	})
	require.NoError(t, err)

	// Batch work referencing the committed entity.
	res, err := e.Batch(batch.Request{
		PlanID: "p1",
		Atomic: true,
		Operations: []batch.Operation{
			{EntityType: "solution", TempID: "$s", Payload: entity.Document{"title": "OAuth provider"}},
			{EntityType: "link", Payload: entity.Document{
				"sourceId": "$s", "targetId": reqID, "relationType": "implements",
			}},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)

	link, err := e.Store().Get("p1", entity.Link, res.Results[1].ID)
	require.NoError(t, err)
	assert.Equal(t, res.TempIDs["$s"], link["sourceId"])
	assert.Equal(t, reqID, link["targetId"])
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = ""
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestEngineNilConfigUsesDefaults(t *testing.T) {
	// Defaults point at ./data; steer them somewhere disposable instead.
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Logging.Level = logging.LevelNone

	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

func TestEngineCloseStopsLocking(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreatePlan("p1", entity.Document{"name": "Plan"}))
	require.NoError(t, e.Close())

	res, err := e.Locks().Acquire("requirement", "r1", "holder")
	require.NoError(t, err)
	assert.False(t, res.Acquired)
}
