package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/internal/core/types"
	"github.com/hearth-home/hearth-backend-go/internal/database/models"
	"github.com/hearth-home/hearth-backend-go/internal/database/repositories"
)

// Notifier receives state changes after they are applied. The
// WebSocket hub and the MQTT publisher both register one.
type Notifier func(change types.StateChange)

// Service owns the in-memory entity registry and its persistence. One
// instance serves all adapters; entity IDs are namespaced by source.
type Service struct {
	repo repositories.EntityRepository
	log  *logrus.Logger

	mu        sync.RWMutex
	entities  map[string]*types.Entity
	adapters  map[types.Source]types.Adapter
	notifiers []Notifier
}

// NewService creates the entity service.
func NewService(repo repositories.EntityRepository, log *logrus.Logger) *Service {
	return &Service{
		repo:     repo,
		log:      log,
		entities: make(map[string]*types.Entity),
		adapters: make(map[types.Source]types.Adapter),
	}
}

// RegisterAdapter makes an adapter available for action routing.
func (s *Service) RegisterAdapter(adapter types.Adapter) {
	s.mu.Lock()
	s.adapters[adapter.GetSourceType()] = adapter
	s.mu.Unlock()
	s.log.WithField("adapter", adapter.GetID()).Info("adapter registered")
}

// Adapters returns all registered adapters.
func (s *Service) Adapters() []types.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Adapter, 0, len(s.adapters))
	for _, a := range s.adapters {
		out = append(out, a)
	}
	return out
}

// OnStateChange registers a notifier.
func (s *Service) OnStateChange(n Notifier) {
	s.mu.Lock()
	s.notifiers = append(s.notifiers, n)
	s.mu.Unlock()
}

// Restore loads persisted entities into the registry at startup. They
// start unavailable until their adapter syncs.
func (s *Service) Restore(ctx context.Context) error {
	rows, err := s.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore entities: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		attrs := map[string]interface{}{}
		if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
			s.log.WithError(err).WithField("entity", row.ID).Warn("dropping invalid attributes blob")
		}
		s.entities[row.ID] = &types.Entity{
			ID:           row.ID,
			Type:         types.EntityType(row.Type),
			FriendlyName: row.FriendlyName,
			State:        types.EntityState(row.State),
			Attributes:   attrs,
			LastUpdated:  row.LastUpdated,
			Available:    false,
			Metadata: &types.Metadata{
				Source: types.Source(row.Source),
			},
		}
	}
	s.log.WithField("entities", len(rows)).Info("entity registry restored")
	return nil
}

// Upsert registers or updates an entity and fires notifiers when the
// state changed.
func (s *Service) Upsert(ctx context.Context, entity *types.Entity) error {
	if entity.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	entity.LastUpdated = time.Now()

	s.mu.Lock()
	previous, existed := s.entities[entity.ID]
	s.entities[entity.ID] = entity
	notifiers := make([]Notifier, len(s.notifiers))
	copy(notifiers, s.notifiers)
	s.mu.Unlock()

	if err := s.persist(ctx, entity); err != nil {
		s.log.WithError(err).WithField("entity", entity.ID).Error("failed to persist entity")
	}

	oldState := types.StateUnknown
	if existed {
		oldState = previous.State
	}
	if !existed || oldState != entity.State {
		change := types.StateChange{
			EntityID:   entity.ID,
			OldState:   oldState,
			NewState:   entity.State,
			Attributes: entity.Attributes,
			Timestamp:  entity.LastUpdated,
			Source:     entity.GetSource(),
		}
		for _, n := range notifiers {
			n(change)
		}
	}
	return nil
}

// Get returns an entity by ID.
func (s *Service) Get(id string) (*types.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	return e, ok
}

// All returns every entity sorted by ID.
func (s *Service) All() []*types.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BySource returns entities belonging to one adapter source.
func (s *Service) BySource(source types.Source) []*types.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*types.Entity{}
	for _, e := range s.entities {
		if e.GetSource() == source {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove deletes an entity from registry and storage.
func (s *Service) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.entities, id)
	s.mu.Unlock()
	return s.repo.Delete(ctx, id)
}

// ExecuteAction routes a control action to the owning adapter.
func (s *Service) ExecuteAction(ctx context.Context, action types.ControlAction) (*types.ControlResult, error) {
	entity, ok := s.Get(action.EntityID)
	if !ok {
		return nil, fmt.Errorf("unknown entity: %s", action.EntityID)
	}

	s.mu.RLock()
	adapter, ok := s.adapters[entity.GetSource()]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter for source %s", entity.GetSource())
	}

	result, err := adapter.ExecuteAction(ctx, action)
	if err != nil {
		return nil, err
	}

	if result.Success && result.NewState != "" {
		updated := *entity
		updated.State = result.NewState
		if err := s.Upsert(ctx, &updated); err != nil {
			s.log.WithError(err).WithField("entity", entity.ID).Warn("failed to record new state")
		}
	}
	return result, nil
}

// MarkSourceAvailability flips availability for every entity of a
// source, used when an adapter's refresh fails or recovers.
func (s *Service) MarkSourceAvailability(ctx context.Context, source types.Source, available bool) {
	for _, e := range s.BySource(source) {
		if e.Available == available {
			continue
		}
		updated := *e
		updated.Available = available
		if !available {
			updated.State = types.StateUnavailable
		}
		if err := s.Upsert(ctx, &updated); err != nil {
			s.log.WithError(err).WithField("entity", e.ID).Warn("failed to update availability")
		}
	}
}

func (s *Service) persist(ctx context.Context, entity *types.Entity) error {
	attrs, err := json.Marshal(entity.Attributes)
	if err != nil {
		attrs = []byte("{}")
	}
	return s.repo.Upsert(ctx, &models.EntityRow{
		ID:           entity.ID,
		Type:         string(entity.Type),
		FriendlyName: entity.FriendlyName,
		Source:       string(entity.GetSource()),
		State:        string(entity.State),
		Attributes:   string(attrs),
		Available:    entity.Available,
		LastUpdated:  entity.LastUpdated,
	})
}
