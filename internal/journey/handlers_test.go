package journey

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/mevguard/internal/faults"
	"github.com/mbd888/mevguard/internal/pagination"
	"github.com/mbd888/mevguard/internal/threat"
)

func setupRouter(t *testing.T) (*gin.Engine, *MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := NewMemoryStore()
	r := gin.New()
	NewHandler(store).RegisterRoutes(r.Group("/v1"))
	return r, store
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHandler_Get(t *testing.T) {
	r, store := setupRouter(t)
	j := New(uuid.New())
	require.NoError(t, j.Assessed(threat.LevelFullyShielded, 0.3, "scored"))
	require.NoError(t, store.Save(context.Background(), j))

	w := get(r, "/v1/journeys/"+j.TxID.String())
	require.Equal(t, http.StatusOK, w.Code)
	var got Journey
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, j.TxID, got.TxID)
	require.NotNil(t, got.Level)
	assert.Equal(t, threat.LevelFullyShielded, *got.Level)

	assert.Equal(t, http.StatusNotFound, get(r, "/v1/journeys/"+uuid.NewString()).Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/v1/journeys/abc").Code)
}

func TestHandler_List(t *testing.T) {
	r, store := setupRouter(t)
	ctx := context.Background()

	failed := New(uuid.New())
	require.NoError(t, failed.Fail(faults.ErrInvalidTransaction))
	require.NoError(t, store.Save(ctx, failed))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(ctx, New(uuid.New())))
	}

	var resp struct {
		Journeys []Journey `json:"journeys"`
		Count    int       `json:"count"`
	}
	w := get(r, "/v1/journeys?state=failed")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, failed.TxID, resp.Journeys[0].TxID)

	w = get(r, "/v1/journeys?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	assert.Equal(t, http.StatusBadRequest, get(r, "/v1/journeys?state=lost").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/v1/journeys?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/v1/journeys?cursor=%21%21").Code)
	assert.Equal(t, http.StatusBadRequest,
		get(r, "/v1/journeys?cursor="+pagination.Encode(time.Now(), "not-a-uuid")).Code)
}

func TestHandler_ListPages(t *testing.T) {
	r, store := setupRouter(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	want := map[uuid.UUID]bool{}
	for i := 0; i < 5; i++ {
		j := completedJourney(t, base.Add(time.Duration(i)*time.Minute))
		want[j.TxID] = true
		require.NoError(t, store.Save(ctx, j))
	}

	seen := map[uuid.UUID]bool{}
	path := "/v1/journeys?limit=2"
	pages := 0
	for {
		var page struct {
			Journeys   []Journey `json:"journeys"`
			NextCursor string    `json:"nextCursor"`
		}
		w := get(r, path)
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		pages++
		for _, j := range page.Journeys {
			assert.False(t, seen[j.TxID], "journey repeated across pages")
			seen[j.TxID] = true
		}
		if page.NextCursor == "" {
			break
		}
		require.Less(t, pages, 5)
		path = "/v1/journeys?limit=2&cursor=" + page.NextCursor
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, want, seen)
}
