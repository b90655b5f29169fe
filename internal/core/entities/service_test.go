package entities

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth-backend-go/internal/core/types"
	"github.com/hearth-home/hearth-backend-go/internal/database/models"
)

type memEntityRepo struct {
	mu   sync.Mutex
	rows map[string]*models.EntityRow
}

func newMemEntityRepo() *memEntityRepo {
	return &memEntityRepo{rows: make(map[string]*models.EntityRow)}
}

func (r *memEntityRepo) GetAll(ctx context.Context) ([]*models.EntityRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.EntityRow{}
	for _, row := range r.rows {
		out = append(out, row)
	}
	return out, nil
}

func (r *memEntityRepo) Get(ctx context.Context, id string) (*models.EntityRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		return row, nil
	}
	return nil, errors.New("not found")
}

func (r *memEntityRepo) Upsert(ctx context.Context, row *models.EntityRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[row.ID] = row
	return nil
}

func (r *memEntityRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *memEntityRepo) DeleteBySource(ctx context.Context, source string) error { return nil }

type stubAdapter struct {
	source types.Source
	result *types.ControlResult
	err    error
	calls  int
}

func (a *stubAdapter) GetID() string                { return string(a.source) + "_stub" }
func (a *stubAdapter) GetSourceType() types.Source  { return a.source }
func (a *stubAdapter) GetName() string              { return "stub" }
func (a *stubAdapter) GetVersion() string           { return "0.0.1" }
func (a *stubAdapter) Connect(ctx context.Context) error    { return nil }
func (a *stubAdapter) Disconnect(ctx context.Context) error { return nil }
func (a *stubAdapter) IsConnected() bool            { return true }
func (a *stubAdapter) GetStatus() string            { return "connected" }
func (a *stubAdapter) SyncEntities(ctx context.Context) ([]*types.Entity, error) {
	return nil, nil
}
func (a *stubAdapter) GetLastSyncTime() *time.Time { return nil }
func (a *stubAdapter) GetSupportedEntityTypes() []types.EntityType {
	return []types.EntityType{types.EntityTypeSwitch}
}
func (a *stubAdapter) SupportsRealtime() bool            { return false }
func (a *stubAdapter) GetHealth() *types.AdapterHealth   { return &types.AdapterHealth{IsHealthy: true} }
func (a *stubAdapter) GetMetrics() *types.AdapterMetrics { return &types.AdapterMetrics{} }

func (a *stubAdapter) ExecuteAction(ctx context.Context, action types.ControlAction) (*types.ControlResult, error) {
	a.calls++
	return a.result, a.err
}

func testEntity(id string, source types.Source, state types.EntityState) *types.Entity {
	return &types.Entity{
		ID:        id,
		Type:      types.EntityTypeSwitch,
		State:     state,
		Available: true,
		Metadata:  &types.Metadata{Source: source},
	}
}

func TestUpsertNotifiesOnStateChange(t *testing.T) {
	s := NewService(newMemEntityRepo(), logrus.New())
	ctx := context.Background()

	var changes []types.StateChange
	s.OnStateChange(func(c types.StateChange) { changes = append(changes, c) })

	require.NoError(t, s.Upsert(ctx, testEntity("switch.a", types.SourceShelly, types.StateOff)))
	require.NoError(t, s.Upsert(ctx, testEntity("switch.a", types.SourceShelly, types.StateOn)))
	// Same state again: no notification.
	require.NoError(t, s.Upsert(ctx, testEntity("switch.a", types.SourceShelly, types.StateOn)))

	require.Len(t, changes, 2)
	assert.Equal(t, types.StateUnknown, changes[0].OldState)
	assert.Equal(t, types.StateOff, changes[0].NewState)
	assert.Equal(t, types.StateOff, changes[1].OldState)
	assert.Equal(t, types.StateOn, changes[1].NewState)
}

func TestRestoreMarksEntitiesUnavailable(t *testing.T) {
	repo := newMemEntityRepo()
	repo.Upsert(context.Background(), &models.EntityRow{
		ID:         "sensor.t",
		Type:       "sensor",
		Source:     "zigbee",
		State:      "active",
		Attributes: `{"unit":"°C"}`,
		Available:  true,
	})

	s := NewService(repo, logrus.New())
	require.NoError(t, s.Restore(context.Background()))

	e, ok := s.Get("sensor.t")
	require.True(t, ok)
	assert.False(t, e.Available, "restored entities wait for their adapter sync")
	assert.Equal(t, types.SourceZigbee, e.GetSource())
	assert.Equal(t, "°C", e.Attributes["unit"])
}

func TestExecuteActionRoutesToOwningAdapter(t *testing.T) {
	s := NewService(newMemEntityRepo(), logrus.New())
	ctx := context.Background()

	shelly := &stubAdapter{source: types.SourceShelly, result: &types.ControlResult{
		Success:  true,
		EntityID: "switch.a",
		NewState: types.StateOn,
	}}
	qube := &stubAdapter{source: types.SourceQube}
	s.RegisterAdapter(shelly)
	s.RegisterAdapter(qube)

	require.NoError(t, s.Upsert(ctx, testEntity("switch.a", types.SourceShelly, types.StateOff)))

	result, err := s.ExecuteAction(ctx, types.ControlAction{EntityID: "switch.a", Action: "turn_on"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, shelly.calls)
	assert.Equal(t, 0, qube.calls)

	e, _ := s.Get("switch.a")
	assert.Equal(t, types.StateOn, e.State)
}

func TestExecuteActionUnknownEntity(t *testing.T) {
	s := NewService(newMemEntityRepo(), logrus.New())

	_, err := s.ExecuteAction(context.Background(), types.ControlAction{EntityID: "nope"})
	assert.Error(t, err)
}

func TestMarkSourceAvailability(t *testing.T) {
	s := NewService(newMemEntityRepo(), logrus.New())
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testEntity("switch.a", types.SourceQube, types.StateOn)))
	require.NoError(t, s.Upsert(ctx, testEntity("switch.b", types.SourceShelly, types.StateOn)))

	s.MarkSourceAvailability(ctx, types.SourceQube, false)

	a, _ := s.Get("switch.a")
	b, _ := s.Get("switch.b")
	assert.False(t, a.Available)
	assert.Equal(t, types.StateUnavailable, a.State)
	assert.True(t, b.Available, "other sources untouched")
}
