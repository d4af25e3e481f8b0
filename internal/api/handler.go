package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ChuLiYu/judge-engine/internal/controller"
	"github.com/ChuLiYu/judge-engine/internal/jobmanager"
	"github.com/ChuLiYu/judge-engine/internal/service"
	"github.com/ChuLiYu/judge-engine/pkg/types"
)

// Handler serves the execution endpoints.
type Handler struct {
	svc *service.Service
	log *slog.Logger
}

// Health reports liveness and capacity.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Health())
}

// Execute judges a submission.
func (h *Handler) Execute(c *gin.Context) {
	var req service.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	h.log.Info("Executing submission",
		"language", req.Language,
		"tests", len(req.TestCases),
		"submission", req.SubmissionID,
	)

	resp, err := h.svc.Execute(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, resp)
		return
	}
	h.log.Info("Submission judged",
		"submission", req.SubmissionID,
		"job", resp.JobID,
		"verdict", resp.Verdict,
		"server_time_ms", resp.ServerTime,
	)
	c.JSON(http.StatusOK, resp)
}

// Test judges a single ad-hoc test; development only.
func (h *Handler) Test(c *gin.Context) {
	var req service.TestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	res, err := h.svc.Test(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Job returns the tracker record for an admitted request.
func (h *Handler) Job(c *gin.Context) {
	job, err := h.svc.Job(types.JobID(c.Param("id")))
	if errors.Is(err, jobmanager.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// fail maps a service error to a response. A failed /execute job answers with
// its RE result so the body keeps the verdict shape.
func (h *Handler) fail(c *gin.Context, err error, resp *service.ExecuteResponse) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
	case errors.Is(err, controller.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is shutting down"})
	default:
		h.log.Error("Execution error", "path", c.FullPath(), "error", err)
		if resp == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, resp)
	}
}
