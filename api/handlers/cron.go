package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/NethermindEth/nfaclaw-agent/communication"
	"github.com/NethermindEth/nfaclaw-agent/storage"
)

// Cron job names.
const (
	JobDistribute = "distribute"
	JobDevRefill  = "dev-refill"
)

const (
	msgMissingCronSecret = "Missing env: CRON_SECRET"
	msgUnauthorizedCron  = "Unauthorized cron call"
)

// authorizeCron checks the Bearer token. A missing secret is a server
// misconfiguration, not a client error.
func (h *Handler) authorizeCron(c *gin.Context) bool {
	if h.CronSecret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": msgMissingCronSecret})
		return false
	}
	want := "Bearer " + h.CronSecret
	if subtle.ConstantTimeCompare([]byte(c.GetHeader("Authorization")), []byte(want)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": msgUnauthorizedCron})
		return false
	}
	return true
}

// HandleDistribute serves GET /api/cron/distribute.
func (h *Handler) HandleDistribute(c *gin.Context) {
	h.runCron(c, JobDistribute, func(ctx context.Context) (interface{}, error) {
		return h.Cron.Distribute(ctx, h.Distribute)
	})
}

// HandleDevRefill serves GET /api/cron/dev-refill.
func (h *Handler) HandleDevRefill(c *gin.Context) {
	h.runCron(c, JobDevRefill, func(ctx context.Context) (interface{}, error) {
		return h.Cron.Refill(ctx, h.Refill)
	})
}

func (h *Handler) runCron(c *gin.Context, job string, run func(ctx context.Context) (interface{}, error)) {
	if !h.authorizeCron(c) {
		return
	}
	if h.Cron == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "cron runner not configured"})
		return
	}

	started := time.Now()
	report, err := run(c.Request.Context())
	record := storage.CronRun{Job: job, RanAt: started, Report: report}
	if err != nil {
		record.Report = nil
		record.Error = err.Error()
	}
	h.saveRun(record)
	h.emit(communication.EventCronCompleted, gin.H{
		"job":        job,
		"ok":         err == nil,
		"durationMs": time.Since(started).Milliseconds(),
	})

	if err != nil {
		h.logger().Error("cron job failed", zap.String("job", job), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	h.logger().Info("cron job completed", zap.String("job", job), zap.Duration("took", time.Since(started)))
	c.JSON(http.StatusOK, report)
}

func (h *Handler) saveRun(run storage.CronRun) {
	if h.CronRuns == nil {
		return
	}
	if err := h.CronRuns.Save(run); err != nil {
		h.logger().Warn("failed to persist cron run", zap.String("job", run.Job), zap.Error(err))
	}
}

// HandleLastCronRun serves GET /api/cron/:job/last.
func (h *Handler) HandleLastCronRun(c *gin.Context) {
	if !h.authorizeCron(c) {
		return
	}
	job := c.Param("job")
	if job != JobDistribute && job != JobDevRefill {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "unknown job"})
		return
	}
	if h.CronRuns == nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "cron history disabled"})
		return
	}
	run, err := h.CronRuns.Last(job)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "no run recorded"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}
