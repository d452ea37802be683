package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icu-capacity-backend/config"
	"icu-capacity-backend/internal/db"
	"icu-capacity-backend/internal/engine"
	"icu-capacity-backend/internal/events"
	"icu-capacity-backend/internal/logger"
	"icu-capacity-backend/internal/model"
	"icu-capacity-backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	engine *engine.Engine
}

func newTestServer(t *testing.T, webpushOptions *webpush.Options) *testServer {
	t.Helper()
	return newTestServerWithStore(t, webpushOptions, nil)
}

// newTestServerWithStore lets a test wrap the sqlite store, e.g. to inject failures.
func newTestServerWithStore(t *testing.T, webpushOptions *webpush.Options, wrap func(store.Store) store.Store) *testServer {
	t.Helper()
	logger.Silence()
	cfg := config.Default()
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := db.Init(&config.DatabaseConfig{Driver: "sqlite", DSN: fmt.Sprintf("file:api_%s?mode=memory&cache=shared", name)})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	})

	st := store.NewGormStore(gormDB)
	if wrap != nil {
		st = wrap(st)
	}
	e := engine.New(cfg, st, events.Noop{})
	return &testServer{router: NewRouter(cfg, NewHandler(e, webpushOptions, nil)), engine: e}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) createBed(t *testing.T, number string, ventilator bool) int64 {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/icu/beds", gin.H{"bed_number": number, "has_ventilator": ventilator})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return int64(decode(t, w)["bed_id"].(float64))
}

func (s *testServer) enqueue(t *testing.T, id int64, prob float64, ventilator bool) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/icu/waitlist", gin.H{
		"patient_id":       id,
		"patient_name":     fmt.Sprintf("Patient %d", id),
		"acuity":           "urgent",
		"icu_probability":  prob,
		"needs_ventilator": ventilator,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
	w := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "icu_utilization_rate")
}

func TestCapacityStatus_ReflectsWritesDespiteCache(t *testing.T) {
	s := newTestServer(t, nil)
	s.createBed(t, "MICU 3-1", false)

	w := s.do(t, http.MethodGet, "/api/icu/capacity-status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total_beds"])

	s.createBed(t, "MICU 3-2", false)
	w = s.do(t, http.MethodGet, "/api/icu/capacity-status", nil)
	body := decode(t, w)
	assert.EqualValues(t, 2, body["total_beds"])
	assert.Len(t, body["beds"], 2)
}

func TestAllocate_FlowAndErrors(t *testing.T) {
	s := newTestServer(t, nil)
	plain := s.createBed(t, "MICU 3-1", false)
	vent := s.createBed(t, "MICU 3-2", true)
	s.enqueue(t, 1, 80, true)
	s.enqueue(t, 2, 50, false)

	w := s.do(t, http.MethodPost, "/api/icu/allocate", gin.H{"patient_id": 1, "bed_id": plain})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "EQUIPMENT_MISMATCH", body["error"])
	assert.Contains(t, body["hint"], "MICU 3-2")

	w = s.do(t, http.MethodPost, "/api/icu/allocate", gin.H{"patient_id": 1, "bed_id": vent}, "X-Admin-User", "dr.house")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, "MICU 3-2", body["bed_number"])
	assert.Equal(t, "dr.house", body["allocated_by"])
	allocationID := int64(body["allocation_id"].(float64))

	w = s.do(t, http.MethodPost, "/api/icu/allocate", gin.H{"patient_id": 1, "bed_id": plain})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_ALLOCATED", decode(t, w)["error"])

	w = s.do(t, http.MethodPost, "/api/icu/allocate", gin.H{"patient_id": 2, "bed_id": vent})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "BED_UNAVAILABLE", decode(t, w)["error"])

	w = s.do(t, http.MethodPost, "/api/icu/allocate", gin.H{"patient_id": 2, "bed_id": 999})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "BED_NOT_FOUND", decode(t, w)["error"])

	w = s.do(t, http.MethodPost, "/api/icu/allocate", gin.H{"patient_id": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/icu/bed-status", gin.H{"bed_id": vent, "status": "maintenance"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "BED_OCCUPIED_CONFLICT", decode(t, w)["error"])

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/icu/allocations/%d/discharge", allocationID), gin.H{"reason": "stepped down"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "stepped down", decode(t, w)["discharge_reason"])

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/icu/allocations/%d/discharge", allocationID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ALLOCATION_NOT_FOUND", decode(t, w)["error"])

	w = s.do(t, http.MethodPut, "/api/icu/bed-status", gin.H{"bed_id": vent, "status": "maintenance"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "maintenance", decode(t, w)["status"])
}

func TestAutoAllocate(t *testing.T) {
	s := newTestServer(t, nil)
	s.createBed(t, "MICU 3-1", false)
	s.createBed(t, "MICU 3-2", true)
	s.enqueue(t, 1, 90, false)
	s.enqueue(t, 2, 40, true)

	w := s.do(t, http.MethodPost, "/api/icu/auto-allocate", gin.H{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, 2, body["count"])

	w = s.do(t, http.MethodGet, "/api/icu/waitlist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["count"])
}

// failingCommitStore lets ok commits through, then fails the rest.
type failingCommitStore struct {
	store.Store
	ok int
}

func (s *failingCommitStore) CommitAllocation(ctx context.Context, alloc *model.Allocation, allowed []model.BedStatus, audit model.AuditLogEntry) error {
	if s.ok == 0 {
		return errors.New("connection reset")
	}
	s.ok--
	return s.Store.CommitAllocation(ctx, alloc, allowed, audit)
}

func TestAutoAllocate_PartialFailureReportsCommitted(t *testing.T) {
	s := newTestServerWithStore(t, nil, func(st store.Store) store.Store {
		return &failingCommitStore{Store: st, ok: 1}
	})
	s.createBed(t, "MICU 3-1", false)
	s.createBed(t, "MICU 3-2", false)
	s.enqueue(t, 1, 90, false)
	s.enqueue(t, 2, 30, false)

	w := s.do(t, http.MethodPost, "/api/icu/auto-allocate", gin.H{})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "INTERNAL", body["error"])
	assert.EqualValues(t, 1, body["count"])
	allocations := body["allocations"].([]any)
	require.Len(t, allocations, 1)
	assert.EqualValues(t, 1, allocations[0].(map[string]any)["patient_id"])
}

func TestWaitlist_RankedAndCancel(t *testing.T) {
	s := newTestServer(t, nil)
	s.enqueue(t, 1, 20, false)
	s.enqueue(t, 2, 90, false)

	w := s.do(t, http.MethodGet, "/api/icu/waitlist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode(t, w)["waitlist"].([]any)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	assert.EqualValues(t, 2, first["patient_id"])
	assert.EqualValues(t, 1, first["rank"])

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/icu/waitlist/2", nil).Code)
	w = s.do(t, http.MethodGet, "/api/icu/waitlist", nil)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodDelete, "/api/icu/waitlist/abc", nil).Code)

	w = s.do(t, http.MethodPost, "/api/icu/waitlist", gin.H{"patient_id": 5, "patient_name": "X", "icu_probability": 150})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID", decode(t, w)["error"])

	w = s.do(t, http.MethodPost, "/api/icu/waitlist", gin.H{"patient_id": 6, "patient_name": "Y", "icu_probability": 40})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "elective", decode(t, w)["acuity"])
}

func TestForecastAnalyticsAndAuditQueries(t *testing.T) {
	s := newTestServer(t, nil)
	s.createBed(t, "MICU 3-1", false)

	w := s.do(t, http.MethodGet, "/api/icu/forecast", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 7, decode(t, w)["days"])

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/icu/forecast?days=abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/icu/forecast?days=31", nil).Code)

	w = s.do(t, http.MethodGet, "/api/icu/analytics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 30, body["window_days"])
	assert.Equal(t, true, body["default_used"])

	w = s.do(t, http.MethodGet, "/api/icu/audit-log?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode(t, w)["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "admin", entries[0].(map[string]any)["admin"])

	w = s.do(t, http.MethodGet, "/api/icu/recommendations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["forecast_available"])
	assert.Equal(t, true, body["waitlist_available"])
}

func TestLiveEvents_UnavailableWithoutSubscriber(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/api/icu/live", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubscriptions(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPut, "/api/subscriptions", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"INVALID","message":"invalid request"}`, w.Body.String())

	sub := gin.H{"endpoint": "https://push.example.com/abc", "p256dh": "key", "auth": "secret"}
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPut, "/api/subscriptions", sub).Code)

	w = s.do(t, http.MethodGet, "/api/subscriptions?endpoint=https://push.example.com/abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIGH", decode(t, w)["min_level"])

	sub["min_level"] = "critical"
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPut, "/api/subscriptions", sub).Code)
	var stored model.PushSubscription
	require.NoError(t, s.engine.Store().DB().First(&stored, "endpoint = ?", "https://push.example.com/abc").Error)
	assert.Equal(t, "CRITICAL", stored.MinLevel)
	assert.Equal(t, 3, stored.LevelRank)

	sub["min_level"] = "urgent"
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/api/subscriptions", sub).Code)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/subscriptions", gin.H{"endpoint": "https://push.example.com/abc"}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/subscriptions?endpoint=https://push.example.com/abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/subscriptions", nil).Code)
}

func TestVAPIDPublicKey(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/api/vapid_public_key", nil).Code)

	s = newTestServer(t, &webpush.Options{VAPIDPublicKey: "BPub"})
	w := s.do(t, http.MethodGet, "/api/vapid_public_key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"BPub"}`, w.Body.String())
}
