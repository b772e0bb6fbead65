package reputation

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/csking101/Sentinel-Protocol/internal/logging"
)

// Handler provides HTTP endpoints for the latest scoring report
type Handler struct {
	store LatestStore
}

// NewHandler creates a new reputation handler
func NewHandler(store LatestStore) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up reputation endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/reputation", h.ListScores)
	r.GET("/reputation/:symbol", h.GetScore)
	r.GET("/export.csv", h.ExportCSV)
}

// ListScores returns the ranked scores and per-asset outcomes of the latest run.
// GET /v1/reputation
func (h *Handler) ListScores(c *gin.Context) {
	report, ok := h.store.Latest(c.Request.Context())
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "not_ready",
			"message": "No scoring run has completed yet",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runId":      report.RunID,
		"finishedAt": report.FinishedAt,
		"scores":     report.Scores,
		"outcomes":   report.Outcomes,
		"count":      len(report.Scores),
	})
}

// GetScore returns one asset's score from the latest run.
// GET /v1/reputation/:symbol
func (h *Handler) GetScore(c *gin.Context) {
	report, ok := h.store.Latest(c.Request.Context())
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "not_ready",
			"message": "No scoring run has completed yet",
		})
		return
	}

	symbol := strings.TrimSpace(c.Param("symbol"))
	score, found := report.Score(symbol)
	if !found {
		resp := gin.H{
			"error":   "not_found",
			"message": "Token was not scored in the latest run",
		}
		if o, configured := report.Outcome(symbol); configured {
			resp["outcome"] = o
		}
		c.JSON(http.StatusNotFound, resp)
		return
	}

	outcome, _ := report.Outcome(symbol)
	c.JSON(http.StatusOK, gin.H{
		"runId":   report.RunID,
		"score":   score,
		"outcome": outcome,
	})
}

// ExportCSV streams the latest report in the scores file format.
// GET /v1/export.csv
func (h *Handler) ExportCSV(c *gin.Context) {
	report, ok := h.store.Latest(c.Request.Context())
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "not_ready",
			"message": "No scoring run has completed yet",
		})
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="reputation_scores.csv"`)
	c.Status(http.StatusOK)
	if err := WriteCSV(c.Writer, report); err != nil {
		logging.L(c.Request.Context()).Error("csv export failed", "error", err, "run_id", report.RunID)
	}
}
