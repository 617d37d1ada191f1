package scheduler

import (
	"net/http"

	"anoa.com/refurnish/pkg/response"
	"github.com/gin-gonic/gin"
)

// JobsHandler exposes registered jobs to operators.
type JobsHandler struct {
	scheduler *Scheduler
}

func NewJobsHandler(scheduler *Scheduler) *JobsHandler {
	return &JobsHandler{scheduler: scheduler}
}

func (h *JobsHandler) ListJobs(c *gin.Context) {
	response.Success(c, http.StatusOK, h.scheduler.GetRegisteredJobs())
}

// RunJob runs the named job synchronously and reports when it finishes.
func (h *JobsHandler) RunJob(c *gin.Context) {
	name := c.Param("name")
	if err := h.scheduler.RunJobByName(c.Request.Context(), name); err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job completed", "job": name})
}
