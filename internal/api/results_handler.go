package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"goregress/domain/core"
	"goregress/domain/regression"
	apperrors "goregress/internal/errors"
	"goregress/ports"
)

// ResultsHandler serves stored runs and their tables
type ResultsHandler struct {
	repo ports.ResultRepository
}

// NewResultsHandler creates a new results handler
func NewResultsHandler(repo ports.ResultRepository) *ResultsHandler {
	return &ResultsHandler{repo: repo}
}

// TableResponse is a table in JSON form; NA cells are null
type TableResponse struct {
	RunID     core.RunID           `json:"run_id"`
	Stage     regression.StageName `json:"stage"`
	Statistic regression.Statistic `json:"statistic"`
	Rows      []string             `json:"rows"`
	Cols      []string             `json:"cols"`
	Values    [][]*float64         `json:"values"`
}

// ListRuns returns recent run summaries
func (h *ResultsHandler) ListRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := h.repo.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun returns one run manifest
func (h *ResultsHandler) GetRun(c *gin.Context) {
	runID, err := core.ParseRunID(c.Param("runID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := h.repo.LoadRun(c.Request.Context(), runID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// GetTable returns one stage table
func (h *ResultsHandler) GetTable(c *gin.Context) {
	runID, err := core.ParseRunID(c.Param("runID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stage := regression.StageName(c.Param("stage"))
	if stage != regression.StageUnivariate && stage != regression.StageMultivariate {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stage must be univariate or multivariate"})
		return
	}
	stat, err := regression.ParseStatistic(c.Param("statistic"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.repo.LoadTable(c.Request.Context(), runID, stage, stat)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := TableResponse{RunID: runID, Stage: stage, Statistic: stat, Rows: t.Rows, Cols: t.Cols, Values: make([][]*float64, len(t.Values))}
	for i, row := range t.Values {
		out := make([]*float64, len(row))
		for j := range row {
			if !regression.IsNA(row[j]) {
				v := row[j]
				out[j] = &v
			}
		}
		resp.Values[i] = out
	}
	c.JSON(http.StatusOK, resp)
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperrors.GetCode(err) {
	case apperrors.CodeNotFound:
		status = http.StatusNotFound
	case apperrors.CodeConfigInvalid, apperrors.CodeInvalidInput:
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": apperrors.GetCode(err)})
}
