package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"anoa.com/refurnish/internal/event/eventtest"
	achievementRepo "anoa.com/refurnish/internal/modules/achievement/repository"
	achievement "anoa.com/refurnish/internal/modules/achievement/service"
	pointsRepo "anoa.com/refurnish/internal/modules/points/repository"
	points "anoa.com/refurnish/internal/modules/points/service"
	"anoa.com/refurnish/internal/testutil"
	"anoa.com/refurnish/pkg/database"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	rec := eventtest.NewRecorder()
	tx := database.NewTxManager(db)
	repo := achievementRepo.NewAchievementRepository(db)
	pointsSvc := points.NewPointsService(pointsRepo.NewPointsRepository(db), tx, rec, zap.NewNop(), points.Config{})
	reg := achievement.NewRegistry(repo, nil, nil, zap.NewNop(), achievement.RegistryConfig{})
	h := NewAchievementHandler(reg, achievement.NewTracker(repo, reg, pointsSvc, tx, rec, zap.NewNop(), 0))

	router := gin.New()
	api := router.Group("/api")
	api.POST("/achievements", h.CreateAchievement)
	api.GET("/achievements", h.ListAchievements)
	api.GET("/achievements/:id", h.GetAchievement)
	api.PATCH("/admin/achievements/:id/active", h.SetActive)
	api.GET("/users/:userId/achievements", h.GetUserAchievements)
	api.GET("/users/:userId/achievements/:id", h.GetUserAchievement)
	api.POST("/users/:userId/achievements/:id/progress", h.TrackProgress)
	return router
}

func do(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

const sofaSaver = `{
	"name": "Sofa Saver",
	"description": "Rescue a sofa from the curb",
	"category": "listing",
	"tier": "BRONZE",
	"pointsReward": 75,
	"criteria": {"type": "PROGRESS"}
}`

func createAchievement(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w, body := do(t, router, http.MethodPost, "/api/achievements", sofaSaver)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return body["data"].(map[string]any)["id"].(string)
}

func TestCreateAchievementEndpoint(t *testing.T) {
	router := setupRouter(t)

	id := createAchievement(t, router)
	assert.NotEmpty(t, id)

	w, _ := do(t, router, http.MethodPost, "/api/achievements", sofaSaver)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body := do(t, router, http.MethodPost, "/api/achievements", `{"name": "Missing bits"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields := body["fields"].(map[string]any)
	assert.Contains(t, fields, "description")

	w, body = do(t, router, http.MethodPost, "/api/achievements", `{
		"name": "Bad", "description": "x", "category": "c", "tier": "BRONZE", "pointsReward": 1,
		"criteria": {"type": "METADATA_MIN", "key": "n"}
	}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["fields"], "criteria")
}

func TestAchievementCatalogueEndpoints(t *testing.T) {
	router := setupRouter(t)
	id := createAchievement(t, router)

	w, body := do(t, router, http.MethodGet, "/api/achievements?category=listing", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	w, body = do(t, router, http.MethodGet, "/api/achievements/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Sofa Saver", body["data"].(map[string]any)["name"])

	w, _ = do(t, router, http.MethodGet, "/api/achievements/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, router, http.MethodGet, "/api/achievements/nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = do(t, router, http.MethodPatch, "/api/admin/achievements/"+id+"/active", `{"active": false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["data"].(map[string]any)["active"])

	w, _ = do(t, router, http.MethodPatch, "/api/admin/achievements/"+id+"/active", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrackProgressEndpoint(t *testing.T) {
	router := setupRouter(t)
	id := createAchievement(t, router)
	path := "/api/users/user-1/achievements/" + id + "/progress"

	w, body := do(t, router, http.MethodPost, path, `{"progress": 40}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(40), data["progress"])
	assert.Equal(t, "IN_PROGRESS", data["status"])

	w, body = do(t, router, http.MethodPost, path, `{"progress": 100, "metadata": {"photo": "sofa.jpg"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	data = body["data"].(map[string]any)
	assert.Equal(t, true, data["isCompleted"])
	assert.Equal(t, "COMPLETED", data["status"])

	w, _ = do(t, router, http.MethodPost, path, `{"progress": "lots"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, router, http.MethodPost, path, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, out := range []string{`{"progress": 150}`, `{"progress": -7}`} {
		w, body = do(t, router, http.MethodPost, path, out)
		require.Equal(t, http.StatusBadRequest, w.Code, out)
		assert.Contains(t, body["fields"], "progress")
	}

	w, body = do(t, router, http.MethodPost, "/api/users/user-1/achievements/"+uuid.NewString()+"/progress", `{"progress": 10}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["fields"], "achievementId")

	w, body = do(t, router, http.MethodGet, "/api/users/user-1/achievements", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := body["data"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "Sofa Saver", list[0].(map[string]any)["achievement"].(map[string]any)["name"])

	w, body = do(t, router, http.MethodGet, "/api/users/user-2/achievements/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "NOT_STARTED", body["data"].(map[string]any)["status"])
}
