package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth-backend-go/internal/api/handlers"
	"github.com/hearth-home/hearth-backend-go/internal/config"
	"github.com/hearth-home/hearth-backend-go/internal/core/backup"
	"github.com/hearth-home/hearth-backend-go/internal/core/entities"
	"github.com/hearth-home/hearth-backend-go/internal/core/system"
	"github.com/hearth-home/hearth-backend-go/internal/core/types"
	"github.com/hearth-home/hearth-backend-go/internal/database/models"
	"github.com/hearth-home/hearth-backend-go/internal/llmtools"
	"github.com/hearth-home/hearth-backend-go/internal/websocket"
)

type nopEntityRepo struct{}

func (nopEntityRepo) GetAll(ctx context.Context) ([]*models.EntityRow, error) { return nil, nil }
func (nopEntityRepo) Get(ctx context.Context, id string) (*models.EntityRow, error) {
	return nil, nil
}
func (nopEntityRepo) Upsert(ctx context.Context, row *models.EntityRow) error { return nil }
func (nopEntityRepo) Delete(ctx context.Context, id string) error             { return nil }
func (nopEntityRepo) DeleteBySource(ctx context.Context, source string) error { return nil }

type memSettingsRepo struct {
	values map[string]*models.SystemConfig
}

func newMemSettingsRepo() *memSettingsRepo {
	return &memSettingsRepo{values: make(map[string]*models.SystemConfig)}
}

func (r *memSettingsRepo) Get(ctx context.Context, key string) (*models.SystemConfig, error) {
	cfg, ok := r.values[key]
	if !ok {
		return nil, assert.AnError
	}
	return cfg, nil
}

func (r *memSettingsRepo) Set(ctx context.Context, cfg *models.SystemConfig) error {
	r.values[cfg.Key] = cfg
	return nil
}

func (r *memSettingsRepo) Delete(ctx context.Context, key string) error {
	delete(r.values, key)
	return nil
}

type stubAdapter struct {
	result *types.ControlResult
}

func (a *stubAdapter) GetID() string                        { return "test_adapter" }
func (a *stubAdapter) GetSourceType() types.Source          { return types.SourceShelly }
func (a *stubAdapter) GetName() string                      { return "Test Adapter" }
func (a *stubAdapter) GetVersion() string                   { return "0.0.1" }
func (a *stubAdapter) Connect(ctx context.Context) error    { return nil }
func (a *stubAdapter) Disconnect(ctx context.Context) error { return nil }
func (a *stubAdapter) IsConnected() bool                    { return true }
func (a *stubAdapter) GetStatus() string                    { return "connected" }
func (a *stubAdapter) GetLastSyncTime() *time.Time          { return nil }
func (a *stubAdapter) GetSupportedEntityTypes() []types.EntityType {
	return []types.EntityType{types.EntityTypeSwitch}
}
func (a *stubAdapter) SupportsRealtime() bool            { return false }
func (a *stubAdapter) GetHealth() *types.AdapterHealth   { return &types.AdapterHealth{IsHealthy: true} }
func (a *stubAdapter) GetMetrics() *types.AdapterMetrics { return &types.AdapterMetrics{} }
func (a *stubAdapter) SyncEntities(ctx context.Context) ([]*types.Entity, error) {
	return nil, nil
}
func (a *stubAdapter) ExecuteAction(ctx context.Context, action types.ControlAction) (*types.ControlResult, error) {
	if a.result != nil {
		return a.result, nil
	}
	return &types.ControlResult{
		Success:     true,
		EntityID:    action.EntityID,
		Action:      action.Action,
		NewState:    types.StateOn,
		ProcessedAt: time.Now(),
	}, nil
}

func testRouter(t *testing.T) (*Router, *entities.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	svc := entities.NewService(nopEntityRepo{}, log)
	svc.RegisterAdapter(&stubAdapter{})

	hub := websocket.NewHub(log)

	cfg := &config.Config{}
	cfg.Auth.Enabled = false
	cfg.Server.Mode = "test"

	dir := t.TempDir()
	bak := backup.NewService(filepath.Join(dir, "hearth.db"), filepath.Join(dir, "backups"), "", 5, log)
	sys := system.NewService("/", log)

	registry := llmtools.NewRegistry()
	require.NoError(t, registry.AddAPI(llmtools.BuildHearthAPI(svc)))

	h := handlers.New(cfg, svc, nil, hub, sys, bak, newMemSettingsRepo(), log)
	return NewRouter(cfg, h, nil, hub, registry, log), svc
}

func seedEntity(t *testing.T, svc *entities.Service, id string, state types.EntityState) {
	t.Helper()
	require.NoError(t, svc.Upsert(context.Background(), &types.Entity{
		ID:        id,
		Type:      types.EntityTypeSwitch,
		State:     state,
		Available: true,
		Metadata:  &types.Metadata{Source: types.SourceShelly},
	}))
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := testRouter(t)

	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestGetEntities(t *testing.T) {
	router, svc := testRouter(t)
	seedEntity(t, svc, "switch.living_room", types.StateOn)
	seedEntity(t, svc, "switch.kitchen", types.StateOff)

	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/entities", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []types.Entity `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
}

func TestGetEntityNotFound(t *testing.T) {
	router, _ := testRouter(t)

	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/entities/switch.ghost", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestControlEntity(t *testing.T) {
	router, svc := testRouter(t)
	seedEntity(t, svc, "switch.living_room", types.StateOff)

	payload := bytes.NewBufferString(`{"action":"turn_on"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/entities/switch.living_room/action", payload)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	entity, ok := svc.Get("switch.living_room")
	require.True(t, ok)
	assert.Equal(t, types.StateOn, entity.State)
}

func TestControlEntityUnknownTarget(t *testing.T) {
	router, _ := testRouter(t)

	payload := bytes.NewBufferString(`{"action":"turn_on"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/entities/switch.ghost/action", payload)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestControlEntityMissingAction(t *testing.T) {
	router, svc := testRouter(t)
	seedEntity(t, svc, "switch.living_room", types.StateOff)

	payload := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/api/entities/switch.living_room/action", payload)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestZigbeeDisabled(t *testing.T) {
	router, _ := testRouter(t)

	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/zigbee/devices", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetAdapters(t *testing.T) {
	router, _ := testRouter(t)

	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/adapters", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []struct {
			ID        string `json:"id"`
			Connected bool   `json:"connected"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "test_adapter", body.Data[0].ID)
	assert.True(t, body.Data[0].Connected)
}

func TestLLMToolsMounted(t *testing.T) {
	router, _ := testRouter(t)

	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/llm_tools", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hearth")
}

func TestMCPMounted(t *testing.T) {
	router, _ := testRouter(t)

	payload := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/mcp", payload)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSettingsRoundTrip(t *testing.T) {
	router, _ := testRouter(t)

	payload := bytes.NewBufferString(`{"value":"60","description":"default permit-join window"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/settings/permit_join_duration", payload)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/settings/permit_join_duration", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"value":"60"`)

	w = httptest.NewRecorder()
	router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/settings/permit_join_duration", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/settings/permit_join_duration", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthRequiredWhenEnabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	svc := entities.NewService(nopEntityRepo{}, log)
	hub := websocket.NewHub(log)
	dir := t.TempDir()
	bak := backup.NewService(filepath.Join(dir, "hearth.db"), filepath.Join(dir, "backups"), "", 5, log)
	sys := system.NewService("/", log)
	registry := llmtools.NewRegistry()

	cfg := &config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "secret"
	h := handlers.New(cfg, svc, nil, hub, sys, bak, newMemSettingsRepo(), log)
	authed := NewRouter(cfg, h, nil, hub, registry, log)

	w := httptest.NewRecorder()
	authed.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/entities", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Health stays open.
	w = httptest.NewRecorder()
	authed.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
