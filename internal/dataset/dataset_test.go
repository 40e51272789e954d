package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/wardflow/internal/tpr"
)

func sampleRecords() []tpr.FacilityRecord {
	return []tpr.FacilityRecord{
		{Ward: "Bille", LGA: "Fufore", State: "Adamawa", FacilityLevel: tpr.LevelPrimary,
			Under5: tpr.TestCounts{RDTTested: 100, RDTPositive: 30}},
		{Ward: "Gurin", LGA: "Fufore", State: "Adamawa", FacilityLevel: tpr.LevelSecondary,
			Under5: tpr.TestCounts{RDTTested: 50, RDTPositive: 10}},
		{Ward: "Dala", LGA: "Dala", State: "Kano", FacilityLevel: tpr.LevelPrimary,
			Under5: tpr.TestCounts{RDTTested: 80, RDTPositive: 40}},
	}
}

func TestNewDataset(t *testing.T) {
	d, err := New("august", sampleRecords())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(d.Handle, "ds_"))
	assert.Equal(t, 3, d.Summary.RecordCount)
	assert.Equal(t, []string{"ADAMAWA", "KANO"}, d.Summary.States)
	assert.Equal(t, []string{"primary", "secondary"}, d.Summary.FacilityLevels)
	assert.Equal(t, 3, d.Summary.WardCount)
}

func TestNewDatasetEmpty(t *testing.T) {
	_, err := New("x", nil)
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestNewDatasetCopiesRecords(t *testing.T) {
	records := sampleRecords()
	d, err := New("x", records)
	require.NoError(t, err)

	records[0].Ward = "CLOBBERED"
	got := d.Records("", "")
	assert.Equal(t, "Bille", got[0].Ward)
}

func TestRecordsFilter(t *testing.T) {
	d, err := New("x", sampleRecords())
	require.NoError(t, err)

	assert.Len(t, d.Records("", ""), 3)
	assert.Len(t, d.Records("adamawa", ""), 2)
	assert.Len(t, d.Records("Adamawa", tpr.LevelPrimary), 1)
	assert.Len(t, d.Records("Lagos", ""), 0)

	// Mutating the returned slice must not touch the dataset.
	got := d.Records("", "")
	got[0].Ward = "CLOBBERED"
	assert.Equal(t, "Bille", d.Records("", "")[0].Ward)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	d, err := New("x", sampleRecords())
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, d))

	got, err := store.Get(ctx, d.Handle)
	require.NoError(t, err)
	assert.Equal(t, d.Handle, got.Handle)

	_, err = store.Get(ctx, "ds_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := store.List(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.Delete(ctx, d.Handle))
	assert.True(t, errors.Is(store.Delete(ctx, d.Handle), ErrNotFound))
}

func setupRouter(store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(store).RegisterRoutes(r.Group("/v1"))
	return r
}

func TestUploadHandler(t *testing.T) {
	r := setupRouter(NewMemoryStore())

	body, _ := json.Marshal(UploadRequest{Name: "august", Records: sampleRecords()})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/datasets", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Dataset Dataset `json:"dataset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.Dataset.Handle, "ds_"))
	assert.Equal(t, 3, resp.Dataset.Summary.RecordCount)
}

func TestUploadHandlerRejectsEmpty(t *testing.T) {
	r := setupRouter(NewMemoryStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/datasets", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetHandlerNotFound(t *testing.T) {
	r := setupRouter(NewMemoryStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/datasets/ds_missing", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}
