package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nicktill/roomusage/pkg/config"
	"github.com/nicktill/roomusage/pkg/period"
	"github.com/nicktill/roomusage/pkg/storage"
	"github.com/nicktill/roomusage/pkg/storage/memory"
	"github.com/nicktill/roomusage/pkg/upload"
)

type failingReader struct {
	storage.Store
}

func (failingReader) QueryRange(context.Context, storage.Query, int, int) ([]period.StoredInterval, bool, error) {
	return nil, false, errors.New("upstream timeout")
}

type failingReplacer struct {
	storage.Store
}

func (failingReplacer) Replace(context.Context, []string, []period.Interval) error {
	return errors.New("disk full")
}

type fakeChecker struct {
	usage, limit int64
	err          error
}

func (f fakeChecker) GetUsage() (int64, error) { return f.usage, f.err }
func (f fakeChecker) GetLimit() int64          { return f.limit }

func newTestRouter(t *testing.T, store storage.Store) (*mux.Router, *Handler) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := NewHandler(upload.New(upload.Config{Store: store, Logger: logger}), store, logger)

	r := mux.NewRouter()
	r.HandleFunc("/v1/users/{user}/uploads", h.HandleUpload).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/{user}/periods", h.HandlePeriods).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{user}/rooms", h.HandleRooms).Methods(http.MethodGet)
	r.HandleFunc("/v1/stats", h.HandleStats).Methods(http.MethodGet)
	return r, h
}

func scenarioBody() UploadRequest {
	return UploadRequest{
		Rooms: []string{"kitchen"},
		Samples: []SampleInput{
			{Timestamp: "2024-05-06T08:00:00Z", Rooms: map[string]int{"kitchen": 0}},
			{Timestamp: "2024-05-06T08:05:00Z", Rooms: map[string]int{"kitchen": 1}},
			{Timestamp: "2024-05-06 08:10:00", Rooms: map[string]int{"kitchen": 1}},
			{Timestamp: "2024-05-06T08:15:00Z", Rooms: map[string]int{"kitchen": 0}},
		},
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestHandleUpload_Success(t *testing.T) {
	r, _ := newTestRouter(t, memory.New())

	rr := doJSON(t, r, http.MethodPost, "/v1/users/alice/uploads", scenarioBody())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Empty(t, resp.Warning)
	assert.Equal(t, 2, resp.Result.Extracted)
	assert.Equal(t, 2, resp.Result.Inserted)
}

func TestHandleUpload_ResendWarns(t *testing.T) {
	r, _ := newTestRouter(t, memory.New())

	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/v1/users/alice/uploads", scenarioBody()).Code)
	rr := doJSON(t, r, http.MethodPost, "/v1/users/alice/uploads", scenarioBody())
	require.Equal(t, http.StatusOK, rr.Code)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "warning", resp.Status)
	assert.Contains(t, resp.Warning, "duplicate periods detected")
	assert.Equal(t, 2, resp.Result.Duplicates)
	assert.Zero(t, resp.Result.Inserted)
}

func TestHandleUpload_BadRequests(t *testing.T) {
	longName := strings.Repeat("x", config.MaxRoomNameLength+1)
	tooManyRooms := make([]string, config.MaxRoomsPerUpload+1)
	for i := range tooManyRooms {
		tooManyRooms[i] = strings.Repeat("r", i+1)
	}

	badValue := scenarioBody()
	badValue.Samples[2].Rooms["kitchen"] = 3

	outOfOrder := scenarioBody()
	outOfOrder.Samples[0], outOfOrder.Samples[3] = outOfOrder.Samples[3], outOfOrder.Samples[0]

	tests := []struct {
		name    string
		body    interface{}
		message string
	}{
		{"malformed JSON", `{"rooms": [`, "invalid JSON"},
		{"empty body", "", "empty"},
		{"unknown field", `{"rooms": [], "samples": [], "extra": 1}`, "unknown field"},
		{"bad timestamp", UploadRequest{
			Rooms:   []string{"kitchen"},
			Samples: []SampleInput{{Timestamp: "2024-05-06T08:00:00Z", Rooms: map[string]int{"kitchen": 0}}, {Timestamp: "yesterday", Rooms: map[string]int{"kitchen": 0}}},
		}, "sample 1"},
		{"value out of range", badValue, "want 0 or 1"},
		{"samples out of order", outOfOrder, "earlier than the previous sample"},
		{"room name too long", UploadRequest{Rooms: []string{longName}}, "room name too long"},
		{"too many rooms", UploadRequest{Rooms: tooManyRooms}, "too many rooms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t, memory.New())

			rr := doJSON(t, r, http.MethodPost, "/v1/users/alice/uploads", tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Contains(t, decodeError(t, rr)["message"], tt.message)
		})
	}
}

func TestHandleUpload_UserIDTooLong(t *testing.T) {
	r, _ := newTestRouter(t, memory.New())

	rr := doJSON(t, r, http.MethodPost, "/v1/users/"+strings.Repeat("u", maxUserIDLength+1)+"/uploads", scenarioBody())
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeError(t, rr)["message"], "user id too long")
}

func TestHandleUpload_StorageLimit(t *testing.T) {
	r, h := newTestRouter(t, memory.New())

	h.SetStorageChecker(fakeChecker{usage: 2048, limit: 1024})
	rr := doJSON(t, r, http.MethodPost, "/v1/users/alice/uploads", scenarioBody())
	require.Equal(t, http.StatusInsufficientStorage, rr.Code)
	assert.Contains(t, decodeError(t, rr)["message"], "storage limit reached")

	// A failing usage check does not block uploads
	h.SetStorageChecker(fakeChecker{limit: 1024, err: errors.New("walk failed")})
	rr = doJSON(t, r, http.MethodPost, "/v1/users/alice/uploads", scenarioBody())
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleUpload_FetchErrorIsBadGateway(t *testing.T) {
	r, _ := newTestRouter(t, failingReader{Store: memory.New()})

	rr := doJSON(t, r, http.MethodPost, "/v1/users/alice/uploads", scenarioBody())
	require.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, decodeError(t, rr)["message"], "upstream timeout")
}

func TestHandleUpload_PersistErrorReportsPhase(t *testing.T) {
	r, _ := newTestRouter(t, failingReplacer{Store: memory.New()})

	rr := doJSON(t, r, http.MethodPost, "/v1/users/alice/uploads", scenarioBody())
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	resp := decodeError(t, rr)
	assert.Equal(t, "replace", resp["phase"])
	assert.Contains(t, resp["message"], "disk full")
}

func TestHandlePeriods(t *testing.T) {
	r, _ := newTestRouter(t, memory.New())
	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/v1/users/alice/uploads", scenarioBody()).Code)

	rr := doJSON(t, r, http.MethodGet, "/v1/users/alice/periods", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp PeriodsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "asc", resp.Order)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "kitchen", resp.Periods[0].Room)
	assert.Equal(t, "2024-05-06 08:00:00", resp.Periods[0].Start)
	assert.Equal(t, "2024-05-06 08:05:00", resp.Periods[0].End)
	assert.Equal(t, 0, resp.Periods[0].Value)
	assert.Equal(t, "2024-05-06 08:15:00", resp.Periods[1].End)
	assert.NotEmpty(t, resp.Periods[0].RowID)

	rr = doJSON(t, r, http.MethodGet, "/v1/users/alice/periods?order=desc", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "2024-05-06 08:15:00", resp.Periods[0].End, "latest end first")

	rr = doJSON(t, r, http.MethodGet, "/v1/users/alice/periods?order=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlePeriods_SmallPages(t *testing.T) {
	r, h := newTestRouter(t, memory.New())
	h.SetPageSize(1)
	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/v1/users/alice/uploads", scenarioBody()).Code)

	rr := doJSON(t, r, http.MethodGet, "/v1/users/alice/periods", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp PeriodsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestHandleRooms(t *testing.T) {
	r, _ := newTestRouter(t, memory.New())

	rr := doJSON(t, r, http.MethodGet, "/v1/users/alice/rooms", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"user_id":"alice","rooms":[],"count":0}`, rr.Body.String())

	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/v1/users/alice/uploads", scenarioBody()).Code)

	rr = doJSON(t, r, http.MethodGet, "/v1/users/alice/rooms", nil)
	var resp RoomsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "kitchen", resp.Rooms[0].Name)
	assert.Equal(t, "alice", resp.Rooms[0].UserID)
}

func TestHandleStats(t *testing.T) {
	r, _ := newTestRouter(t, memory.New())
	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/v1/users/alice/uploads", scenarioBody()).Code)

	rr := doJSON(t, r, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var stats storage.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, uint64(2), stats.TotalIntervals)
	assert.Equal(t, uint64(1), stats.TotalUsers)
	assert.Equal(t, uint64(1), stats.TotalRooms)
}
