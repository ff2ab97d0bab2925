package dispatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ianampudia11/mecom-sub003/internal/domain"
	"github.com/ianampudia11/mecom-sub003/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAPIPath = "../../api/openapi/openapi.yaml"

var loadOpenAPI = sync.OnceValues(func() (*testutil.OpenAPIValidator, error) {
	return testutil.LoadOpenAPIValidator(openAPIPath)
})

func openAPIValidator(t *testing.T) *testutil.OpenAPIValidator {
	t.Helper()

	v, err := loadOpenAPI()
	require.NoError(t, err)
	return v
}

type staticStatus ProcessingStatus

func (s staticStatus) Status() ProcessingStatus { return ProcessingStatus(s) }

func newTestRouter(t *testing.T, store *memStore, status StatusProvider) http.Handler {
	t.Helper()

	svc := NewService(store, status)
	svc.now = func() time.Time { return baseTime }

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		NewHandler(svc).RegisterRoutes(r)
	})
	return r
}

func doRequest(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// Every answer, errors included, must match the published API.
	openAPIValidator(t).ValidateRecorded(t, req, rec)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec, body
}

func seedStore() *memStore {
	store := newMemStore()
	store.addCampaign(&domain.Campaign{ID: "running", CompanyID: "co-1", Status: domain.CampaignStatusRunning})
	store.addCampaign(&domain.Campaign{ID: "done", CompanyID: "co-1", Status: domain.CampaignStatusCompleted})
	store.addRecipientItem("running", "i1", 0, baseTime)
	store.addRecipientItem("running", "i2", 0, baseTime)
	return store
}

func TestHandler_CampaignTransitions(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
	}{
		{"pause running", http.MethodPost, "/api/v1/campaigns/running/pause", http.StatusOK},
		{"resume running", http.MethodPost, "/api/v1/campaigns/running/resume", http.StatusConflict},
		{"pause completed", http.MethodPost, "/api/v1/campaigns/done/pause", http.StatusConflict},
		{"pause unknown", http.MethodPost, "/api/v1/campaigns/missing/pause", http.StatusNotFound},
		{"cancel completed", http.MethodPost, "/api/v1/campaigns/done/cancel", http.StatusConflict},
		{"cancel unknown", http.MethodPost, "/api/v1/campaigns/missing/cancel", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, seedStore(), nil)
			rec, _ := doRequest(t, router, tt.method, tt.target)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHandler_PauseThenResume(t *testing.T) {
	store := seedStore()
	router := newTestRouter(t, store, nil)

	rec, body := doRequest(t, router, http.MethodPost, "/api/v1/campaigns/running/pause")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "paused", data["status"])
	assert.Equal(t, domain.CampaignStatusPaused, store.campaign("running").Status)

	rec, _ = doRequest(t, router, http.MethodPost, "/api/v1/campaigns/running/resume")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.CampaignStatusRunning, store.campaign("running").Status)
	assert.Nil(t, store.campaign("running").PausedAt)
}

func TestHandler_Cancel(t *testing.T) {
	store := seedStore()
	router := newTestRouter(t, store, nil)

	rec, body := doRequest(t, router, http.MethodPost, "/api/v1/campaigns/running/cancel")
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]any)
	assert.Equal(t, "running", data["campaign_id"])
	assert.EqualValues(t, 2, data["cancelled_items"])
	assert.Equal(t, domain.QueueStatusCancelled, store.item("i1").Status)
	assert.Equal(t, domain.RecipientStatusCancelled, store.recipient("r-i1").Status)
	assert.Equal(t, domain.CampaignStatusCancelled, store.campaign("running").Status)
}

func TestHandler_QueueStats(t *testing.T) {
	store := seedStore()
	store.items["i2"].Status = domain.QueueStatusFailed
	router := newTestRouter(t, store, nil)

	rec, body := doRequest(t, router, http.MethodGet, "/api/v1/companies/co-1/queue/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]any)
	assert.EqualValues(t, 2, data["total"])
	assert.EqualValues(t, 1, data["pending"])
	assert.EqualValues(t, 1, data["failed"])
}

func TestHandler_ClearFailed(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		failedAgo   time.Duration
		wantStatus  int
		wantDeleted float64
	}{
		{"default retention keeps recent", "", 24 * time.Hour, http.StatusOK, 0},
		{"default retention clears old", "", 8 * 24 * time.Hour, http.StatusOK, 1},
		{"explicit days", "?older_than_days=1", 2 * 24 * time.Hour, http.StatusOK, 1},
		{"zero clears all", "?older_than_days=0", time.Minute, http.StatusOK, 1},
		{"negative rejected", "?older_than_days=-1", time.Minute, http.StatusBadRequest, 0},
		{"not a number", "?older_than_days=abc", time.Minute, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seedStore()
			failedAt := baseTime.Add(-tt.failedAgo)
			store.items["i1"].Status = domain.QueueStatusFailed
			store.items["i1"].LastErrorAt = &failedAt
			router := newTestRouter(t, store, nil)

			rec, body := doRequest(t, router, http.MethodDelete, "/api/v1/companies/co-1/queue/failed"+tt.query)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				assert.Contains(t, body, "error")
				return
			}
			data := body["data"].(map[string]any)
			assert.Equal(t, tt.wantDeleted, data["deleted"])
		})
	}
}

func TestHandler_Status(t *testing.T) {
	status := staticStatus{
		IsProcessing:          true,
		ConcurrentConnections: 1,
		ActivePools:           2,
		Pools:                 []PoolSnapshot{{ConnectionID: "a"}, {ConnectionID: "b"}},
	}
	router := newTestRouter(t, newMemStore(), status)

	rec, body := doRequest(t, router, http.MethodGet, "/api/v1/dispatcher/status")
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["isProcessing"])
	assert.EqualValues(t, 2, data["activePools"])
	assert.Len(t, data["pools"], 2)
}

func TestHandler_StatusWithoutScheduler(t *testing.T) {
	router := newTestRouter(t, newMemStore(), nil)

	rec, body := doRequest(t, router, http.MethodGet, "/api/v1/dispatcher/status")
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]any)
	assert.Equal(t, false, data["isProcessing"])
	assert.Empty(t, data["pools"])
}

func TestHandler_RequestsMatchOpenAPI(t *testing.T) {
	v := openAPIValidator(t)

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/api/v1/dispatcher/status"},
		{http.MethodGet, "/api/v1/companies/co-1/queue/stats"},
		{http.MethodDelete, "/api/v1/companies/co-1/queue/failed"},
		{http.MethodDelete, "/api/v1/companies/co-1/queue/failed?older_than_days=30"},
		{http.MethodPost, "/api/v1/campaigns/running/pause"},
		{http.MethodPost, "/api/v1/campaigns/running/resume"},
		{http.MethodPost, "/api/v1/campaigns/running/cancel"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			v.ValidateRequest(t, httptest.NewRequest(tt.method, tt.target, nil))
		})
	}
}
