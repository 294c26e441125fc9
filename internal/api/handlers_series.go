package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"trade-setup-assistant/internal/cache"
)

type seriesSummary struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Candles  int    `json:"candles"`
	LastTime int64  `json:"lastTime,omitempty"`
}

// handlePutSeries stores a candle series under the path name
func (s *Server) handlePutSeries(c *gin.Context) {
	var series cache.Series
	if err := c.ShouldBindJSON(&series); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	series.Name = c.Param("name")
	if err := s.deps.Series.Put(c.Request.Context(), series); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	successResponse(c, summarizeSeries(series))
}

// handleListSeries lists stored series without their candles
func (s *Server) handleListSeries(c *gin.Context) {
	list, err := s.deps.Series.List(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]seriesSummary, 0, len(list))
	for _, series := range list {
		out = append(out, summarizeSeries(series))
	}
	successResponse(c, gin.H{"series": out})
}

func (s *Server) handleDeleteSeries(c *gin.Context) {
	err := s.deps.Series.Delete(c.Request.Context(), c.Param("name"))
	if errors.Is(err, cache.ErrSeriesNotFound) {
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"deleted": true})
}

func summarizeSeries(series cache.Series) seriesSummary {
	sum := seriesSummary{
		Name:     series.Name,
		Symbol:   series.Symbol,
		Interval: series.Interval,
		Candles:  len(series.Candles),
	}
	if last, ok := series.Last(); ok {
		sum.LastTime = last.Time
	}
	return sum
}
