package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"anoa.com/refurnish/pkg/apperror"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubJob struct {
	name     string
	schedule string
	runs     int
	err      error
}

func (j *stubJob) GetName() string     { return j.name }
func (j *stubJob) GetSchedule() string { return j.schedule }
func (j *stubJob) Execute(context.Context) error {
	j.runs++
	return j.err
}

func TestRegisterAndRunByName(t *testing.T) {
	s := NewScheduler(zap.NewNop(), 0)

	scheduled := &stubJob{name: "reconcile", schedule: "@every 6h"}
	onDemand := &stubJob{name: "manual", err: errors.New("boom")}
	require.NoError(t, s.RegisterJob(scheduled))
	require.NoError(t, s.RegisterJob(onDemand))

	assert.Equal(t, []string{"reconcile", "manual"}, s.GetRegisteredJobs())

	require.NoError(t, s.RunJobByName(context.Background(), "reconcile"))
	assert.Equal(t, 1, scheduled.runs)

	assert.EqualError(t, s.RunJobByName(context.Background(), "manual"), "boom")
	assert.ErrorIs(t, s.RunJobByName(context.Background(), "missing"), apperror.ErrNotFound)
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(zap.NewNop(), 0)
	err := s.RegisterJob(&stubJob{name: "bad", schedule: "every tuesday-ish"})
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(zap.NewNop(), 0)
	require.NoError(t, s.RegisterJob(&stubJob{name: "reconcile", schedule: "@every 1h"}))
	s.Start()
	s.Stop(context.Background())
}

func TestJobsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewScheduler(zap.NewNop(), 0)
	job := &stubJob{name: "reconcile", schedule: "@every 6h"}
	require.NoError(t, s.RegisterJob(job))
	require.NoError(t, s.RegisterJob(&stubJob{name: "broken", err: errors.New("boom")}))

	h := NewJobsHandler(s)
	router := gin.New()
	router.GET("/jobs", h.ListJobs)
	router.POST("/jobs/:name/run", h.RunJob)

	serve := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	w := serve(http.MethodGet, "/jobs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data": ["reconcile", "broken"]}`, w.Body.String())

	w = serve(http.MethodPost, "/jobs/reconcile/run")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, job.runs)

	assert.Equal(t, http.StatusNotFound, serve(http.MethodPost, "/jobs/missing/run").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(http.MethodPost, "/jobs/broken/run").Code)
}
