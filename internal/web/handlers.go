package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lucasnoah/reviewflow/internal/db"
	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

const maxListLimit = 500

// executionDetail is the body of GET /api/executions/:uuid.
type executionDetail struct {
	Execution *db.Execution `json:"execution"`
	StageLogs []db.StageLog `json:"stage_logs"`
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "store": "disabled"})
		return
	}
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListExecutions(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no store configured"})
		return
	}

	filter := db.ExecutionFilter{RepositoryID: c.Query("repository_id")}
	if v := c.Query("pull_request_number"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pull_request_number"})
			return
		}
		filter.PullRequestNumber = n
	}
	if v := c.Query("status"); v != "" {
		st := pipeline.Status(v)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		filter.Status = st
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxListLimit)
	}

	execs, err := s.store.ListExecutions(c.Request.Context(), filter, limit)
	if err != nil {
		s.internalError(c, "list executions", err)
		return
	}
	if execs == nil {
		execs = []db.Execution{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":      len(execs),
		"executions": execs,
	})
}

func (s *Server) handleGetExecution(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no store configured"})
		return
	}

	id := c.Param("uuid")
	ctx := c.Request.Context()
	exec, err := s.store.GetExecution(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	if err != nil {
		s.internalError(c, "get execution", err)
		return
	}

	logs, err := s.store.ListStageLogs(ctx, id)
	if err != nil {
		s.internalError(c, "list stage logs", err)
		return
	}
	if logs == nil {
		logs = []db.StageLog{}
	}
	c.JSON(http.StatusOK, executionDetail{Execution: exec, StageLogs: logs})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	if s.logger != nil {
		s.logger.Error(op+" failed", "err", err)
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
