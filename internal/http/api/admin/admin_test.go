package admin

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
	"github.com/router-for-me/CLIProxyAPIFallback/internal/admission"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/config"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/db"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/fallback"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/maintenance"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/models"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/provider"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/security"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/settings"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/usage"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type testEnv struct {
	router   *gin.Engine
	conn     *gorm.DB
	store    *fallback.Store
	recorder *usage.Recorder
	manager  *admission.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, errOpen := db.Open("file:" + filepath.Join(t.TempDir(), "admin.db"))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	client := provider.ClientFunc(func(_ context.Context, _ string, req provider.Request) (*provider.Response, error) {
		return &provider.Response{Content: "pong", Model: req.Model}, nil
	})
	store := fallback.NewStore(nil, client, nil)
	recorder := usage.NewRecorder(10, nil)
	manager := admission.NewManager(func() admission.Settings {
		return admission.Settings{Limits: admission.Limits{RequestLimit: 2, Window: time.Hour, Cooldown: time.Hour}}
	}, nil, nil)
	t.Cleanup(func() { _ = manager.Close() })

	r := gin.New()
	RegisterAdminRoutes(r, Deps{
		DB:        conn,
		JWT:       config.JWTConfig{Secret: "test-secret", Expiry: time.Hour},
		Store:     store,
		Gate:      maintenance.NewGate(store, nil),
		Recorder:  recorder,
		Admission: manager,
	})
	return &testEnv{router: r, conn: conn, store: store, recorder: recorder, manager: manager}
}

func (e *testEnv) createAdmin(t *testing.T, username string, super bool, perms []string) {
	t.Helper()
	hashed, errHash := security.HashPassword("secret-pass")
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	raw, _ := json.Marshal(perms)
	admin := models.Admin{
		Username:     username,
		Password:     hashed,
		Active:       true,
		IsSuperAdmin: super,
		Permissions:  datatypes.JSON(raw),
	}
	if errCreate := e.conn.Create(&admin).Error; errCreate != nil {
		t.Fatalf("create admin: %v", errCreate)
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if errEncode := json.NewEncoder(&buf).Encode(body); errEncode != nil {
			t.Fatalf("encode body: %v", errEncode)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/v0/admin/login", "", gin.H{"username": username, "password": "secret-pass"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil || resp.Token == "" {
		t.Fatalf("decode login: %v body=%s", errDecode, w.Body.String())
	}
	return resp.Token
}

func TestLogin_RejectsBadPassword(t *testing.T) {
	env := newTestEnv(t)
	env.createAdmin(t, "root", true, nil)

	w := env.do(t, http.MethodPost, "/v0/admin/login", "", gin.H{"username": "root", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestLogin_SetsLastLogin(t *testing.T) {
	env := newTestEnv(t)
	env.createAdmin(t, "root", true, nil)
	env.login(t, "root")

	var admin models.Admin
	if errFind := env.conn.Where("username = ?", "root").First(&admin).Error; errFind != nil {
		t.Fatalf("find admin: %v", errFind)
	}
	if admin.LastLoginAt == nil {
		t.Fatalf("expected last_login_at to be set")
	}
}

func TestAuthMiddleware_RequiresBearer(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/v0/admin/fallback/config", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/v0/admin/fallback/config", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", w.Code)
	}
}

func TestPermissionMiddleware(t *testing.T) {
	env := newTestEnv(t)
	env.createAdmin(t, "viewer", false, []string{"GET /v0/admin/fallback/config"})
	token := env.login(t, "viewer")

	if w := env.do(t, http.MethodGet, "/v0/admin/fallback/config", token, nil); w.Code != http.StatusOK {
		t.Fatalf("expected granted route to pass, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/v0/admin/fallback/config", token, gin.H{"enabled": false}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for ungranted route, got %d", w.Code)
	}
}

func TestFallbackConfig_UpdateAndMask(t *testing.T) {
	env := newTestEnv(t)
	env.createAdmin(t, "root", true, nil)
	token := env.login(t, "root")

	key := "sk-abcdefghijklmnop1234"
	w := env.do(t, http.MethodPut, "/v0/admin/fallback/config", token, gin.H{"primary_key": key, "max_fallback_attempts": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", w.Code, w.Body.String())
	}
	if bytes.Contains(w.Body.Bytes(), []byte(key)) {
		t.Fatalf("response leaked the raw key: %s", w.Body.String())
	}
	if got := env.store.Get(); got.Credentials.PrimaryKey != key || got.Fallback.MaxFallbackAttempts != 2 {
		t.Fatalf("unexpected stored config: %+v", got)
	}

	w = env.do(t, http.MethodPut, "/v0/admin/fallback/config", token, gin.H{"max_fallback_attempts": 99})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range attempts, got %d", w.Code)
	}
	if env.store.Get().Fallback.MaxFallbackAttempts != 2 {
		t.Fatalf("expected rejected update to leave config untouched")
	}
}

func TestFallbackConfig_ReplaceModelsDefaultsEnabledAndTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.createAdmin(t, "root", true, nil)
	token := env.login(t, "root")

	body := gin.H{
		"notify_on_fallback": true,
		"models": []gin.H{
			{"model_id": "m-a", "priority": 1},
			{"model_id": "m-b", "priority": 2, "enabled": false, "timeout_ms": 9000},
		},
	}
	w := env.do(t, http.MethodPut, "/v0/admin/fallback/config", token, body)
	if w.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", w.Code, w.Body.String())
	}
	got := env.store.Get()
	if !got.Fallback.NotifyOnFallback {
		t.Fatalf("expected scalar fields of the patch to apply")
	}
	if len(got.Fallback.Models) != 2 {
		t.Fatalf("expected 2 models, got %+v", got.Fallback.Models)
	}
	first, second := got.Fallback.Models[0], got.Fallback.Models[1]
	if !first.Enabled || first.TimeoutMs != settings.DefaultModelTimeoutMs {
		t.Fatalf("expected omitted enabled/timeout to default, got %+v", first)
	}
	if second.Enabled || second.TimeoutMs != 9000 {
		t.Fatalf("expected explicit fields kept, got %+v", second)
	}
}

func TestFallbackModels_CRUD(t *testing.T) {
	env := newTestEnv(t)
	env.createAdmin(t, "root", true, nil)
	token := env.login(t, "root")

	w := env.do(t, http.MethodPost, "/v0/admin/fallback/models", token, gin.H{"model_id": "m-a", "priority": 1, "timeout_ms": 5000})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status=%d body=%s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/v0/admin/fallback/models", token, gin.H{"model_id": "m-b", "priority": 1, "timeout_ms": 5000})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate priority, got %d", w.Code)
	}
	w = env.do(t, http.MethodPut, "/v0/admin/fallback/models/m-a", token, gin.H{"priority": 3, "timeout_ms": 8000})
	if w.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", w.Code, w.Body.String())
	}
	got := env.store.Get().Fallback.Models
	if len(got) != 1 || got[0].Priority != 3 || !got[0].Enabled {
		t.Fatalf("unexpected models after update: %+v", got)
	}
	if w = env.do(t, http.MethodDelete, "/v0/admin/fallback/models/missing", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing model, got %d", w.Code)
	}
	if w = env.do(t, http.MethodDelete, "/v0/admin/fallback/models/m-a", token, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestTestModel_NoCredential(t *testing.T) {
	env := newTestEnv(t)
	env.createAdmin(t, "root", true, nil)
	token := env.login(t, "root")

	w := env.do(t, http.MethodPost, "/v0/admin/fallback/models/test", token, gin.H{"model_id": "m-a"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without credentials, got %d body=%s", w.Code, w.Body.String())
	}

	key := "sk-abcdefghijklmnop1234"
	if _, err := env.store.Update(context.Background(), fallback.Patch{PrimaryKey: &key}); err != nil {
		t.Fatalf("set key: %v", err)
	}
	w = env.do(t, http.MethodPost, "/v0/admin/fallback/models/test", token, gin.H{"model_id": "m-a"})
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("pong")) {
		t.Fatalf("expected successful probe, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestAPIKeys_Validate(t *testing.T) {
	env := newTestEnv(t)
	env.createAdmin(t, "root", true, nil)
	token := env.login(t, "root")

	w := env.do(t, http.MethodPost, "/v0/admin/api-keys/validate", token, gin.H{"key": "nope"})
	var resp struct {
		Valid bool `json:"valid"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || resp.Valid {
		t.Fatalf("expected invalid key report, got %d body=%s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/v0/admin/api-keys/test", token, gin.H{"key": "sk-abcdefghijklmnop1234"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected probe success, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestMaintenance_StartAndStop(t *testing.T) {
	env := newTestEnv(t)
	env.createAdmin(t, "root", true, nil)
	token := env.login(t, "root")

	w := env.do(t, http.MethodPut, "/v0/admin/maintenance", token, gin.H{"active": true, "message": "upgrade", "duration_minutes": 0})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero duration, got %d", w.Code)
	}
	w = env.do(t, http.MethodPut, "/v0/admin/maintenance", token, gin.H{"active": true, "message": "upgrade", "duration_minutes": 30, "show_countdown": true})
	if w.Code != http.StatusOK {
		t.Fatalf("start status=%d body=%s", w.Code, w.Body.String())
	}
	var status maintenance.Status
	_ = json.Unmarshal(w.Body.Bytes(), &status)
	if !status.Active || status.SecondsRemaining <= 0 || status.SecondsRemaining > 1800 {
		t.Fatalf("unexpected status: %+v", status)
	}
	w = env.do(t, http.MethodPut, "/v0/admin/maintenance", token, gin.H{"active": false})
	_ = json.Unmarshal(w.Body.Bytes(), &status)
	if w.Code != http.StatusOK || status.Active {
		t.Fatalf("expected inactive after stop, got %d %+v", w.Code, status)
	}
}

func TestUsage_LogsAndClear(t *testing.T) {
	env := newTestEnv(t)
	env.createAdmin(t, "root", true, nil)
	token := env.login(t, "root")

	for i := 0; i < 3; i++ {
		env.recorder.Append(usage.Entry{Outcome: usage.OutcomeSuccess, LatencyMs: usage.Latency(100 * time.Millisecond)})
	}
	w := env.do(t, http.MethodGet, "/v0/admin/usage/logs?limit=2", token, nil)
	var logs struct {
		Logs     []usage.Entry `json:"logs"`
		Total    int           `json:"total"`
		Capacity int           `json:"capacity"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &logs)
	if w.Code != http.StatusOK || len(logs.Logs) != 2 || logs.Total != 3 || logs.Capacity != 10 {
		t.Fatalf("unexpected logs response %d %s", w.Code, w.Body.String())
	}
	if w = env.do(t, http.MethodGet, "/v0/admin/usage/logs?limit=x", token, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/v0/admin/usage/stats", token, nil)
	var stats usage.Stats
	_ = json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.RequestsToday != 3 || stats.SuccessRate != 100 || stats.AverageLatencyMs != 100 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if w = env.do(t, http.MethodDelete, "/v0/admin/usage/logs", token, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if env.recorder.Len() != 0 {
		t.Fatalf("expected empty log after clear")
	}
}

func TestAdmission_Lookup(t *testing.T) {
	env := newTestEnv(t)
	env.createAdmin(t, "root", true, nil)
	token := env.login(t, "root")

	if w := env.do(t, http.MethodGet, "/v0/admin/admission/alice", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown caller, got %d", w.Code)
	}
	if _, err := env.manager.CheckAndConsume(context.Background(), admission.KeyForCaller("alice")); err != nil {
		t.Fatalf("consume: %v", err)
	}
	w := env.do(t, http.MethodGet, "/v0/admin/admission/alice", token, nil)
	var rec admission.Record
	_ = json.Unmarshal(w.Body.Bytes(), &rec)
	if w.Code != http.StatusOK || rec.RequestCount != 1 {
		t.Fatalf("unexpected admission record %d %s", w.Code, w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
