package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"trade-setup-assistant/internal/acquisition"
	"trade-setup-assistant/internal/analysis"
	"trade-setup-assistant/internal/cache"
	"trade-setup-assistant/internal/media"
	"trade-setup-assistant/internal/risk"
	"trade-setup-assistant/internal/strategy"
)

const maxUploadBytes = 20 << 20

// sessionError maps acquisition and analysis errors to HTTP statuses
func sessionError(c *gin.Context, err error) {
	var resErr *analysis.ResultError
	switch {
	case errors.Is(err, acquisition.ErrSessionNotFound):
		errorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, acquisition.ErrTooManySessions):
		errorResponse(c, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, acquisition.ErrBusy),
		errors.Is(err, acquisition.ErrNotGathering),
		errors.Is(err, acquisition.ErrNotReady),
		errors.Is(err, acquisition.ErrStrategyChanged),
		errors.Is(err, acquisition.ErrSessionReset):
		errorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, strategy.ErrNoStrategy),
		errors.Is(err, media.ErrUnsupportedImage),
		errors.Is(err, acquisition.ErrNoImages),
		errors.Is(err, analysis.ErrNoContext),
		errors.Is(err, cache.ErrSeriesNotFound):
		errorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, acquisition.ErrModelUnavailable):
		errorResponse(c, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &resErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":      true,
			"message":    err.Error(),
			"missing":    resErr.Missing,
			"violations": resErr.Violations,
		})
	default:
		errorResponse(c, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) machine(c *gin.Context) (*acquisition.Machine, bool) {
	m, err := s.deps.Sessions.Get(c.Param("id"))
	if err != nil {
		sessionError(c, err)
		return nil, false
	}
	return m, true
}

func (s *Server) handleCreateSession(c *gin.Context) {
	m, err := s.deps.Sessions.Create()
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": m.Snapshot()})
}

func (s *Server) handleGetSession(c *gin.Context) {
	m, ok := s.machine(c)
	if !ok {
		return
	}
	successResponse(c, m.Snapshot())
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.deps.Sessions.Delete(c.Param("id")); err != nil {
		sessionError(c, err)
		return
	}
	successResponse(c, gin.H{"deleted": true})
}

type startRequest struct {
	Strategies []string `json:"strategies" binding:"required"`
}

// handleStartSession opens the guided conversation
func (s *Server) handleStartSession(c *gin.Context) {
	m, ok := s.machine(c)
	if !ok {
		return
	}
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	if err := m.Start(c.Request.Context(), req.Strategies); err != nil {
		sessionError(c, err)
		return
	}
	successResponse(c, m.Snapshot())
}

type imageRequest struct {
	Image string `json:"image" binding:"required"`
}

// handleSubmitImage accepts a data URL as JSON or a multipart file upload
func (s *Server) handleSubmitImage(c *gin.Context) {
	m, ok := s.machine(c)
	if !ok {
		return
	}

	dataURL, err := readImage(c)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := m.Submit(c.Request.Context(), dataURL)
	if err != nil {
		// an image turn failure is recorded in the conversation; report it with the snapshot
		if outcome == acquisition.OutcomeFailed && !errors.Is(err, acquisition.ErrNotGathering) &&
			!errors.Is(err, acquisition.ErrBusy) && !errors.Is(err, media.ErrUnsupportedImage) &&
			!errors.Is(err, acquisition.ErrSessionReset) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   true,
				"message": err.Error(),
				"data":    gin.H{"outcome": outcome, "session": m.Snapshot()},
			})
			return
		}
		sessionError(c, err)
		return
	}
	status := http.StatusOK
	if outcome == acquisition.OutcomeIgnored {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{
		"success": true,
		"data":    gin.H{"outcome": outcome, "session": m.Snapshot()},
	})
}

func readImage(c *gin.Context) (string, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("image")
		if err != nil {
			return "", fmt.Errorf("missing image file: %w", err)
		}
		if fh.Size > maxUploadBytes {
			return "", fmt.Errorf("image exceeds %d bytes", maxUploadBytes)
		}
		f, err := fh.Open()
		if err != nil {
			return "", err
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
		if err != nil {
			return "", err
		}
		img, err := media.FromBytes(data)
		if err != nil {
			return "", err
		}
		return img.DataURL(), nil
	}

	var req imageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}
	return req.Image, nil
}

type preloadRequest struct {
	Images []string `json:"images" binding:"required"`
}

// handlePreload installs already collected images and skips guidance
func (s *Server) handlePreload(c *gin.Context) {
	m, ok := s.machine(c)
	if !ok {
		return
	}
	var req preloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	if err := m.Preload(req.Images); err != nil {
		sessionError(c, err)
		return
	}
	successResponse(c, m.Snapshot())
}

func (s *Server) handleResetSession(c *gin.Context) {
	m, ok := s.machine(c)
	if !ok {
		return
	}
	if err := m.Reset(); err != nil {
		sessionError(c, err)
		return
	}
	successResponse(c, m.Snapshot())
}

type analyzeRequest struct {
	Series     []string         `json:"series"`
	Strategies []string         `json:"strategies"`
	Risk       *risk.Parameters `json:"risk,omitempty"`
}

// handleAnalyze runs the final analysis over the session's frozen images
// and any selected cached series. Idle sessions may analyze series alone.
func (s *Server) handleAnalyze(c *gin.Context) {
	m, ok := s.machine(c)
	if !ok {
		return
	}
	var req analyzeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
			return
		}
	}

	// the session stays in the analyzing phase until the call returns
	lease, err := m.BeginAnalysis()
	if err != nil {
		sessionError(c, err)
		return
	}
	defer lease.Release()

	ctx := c.Request.Context()
	if len(req.Strategies) > 0 {
		resolved, err := s.deps.Catalog.Resolve(req.Strategies)
		if err != nil {
			sessionError(c, err)
			return
		}
		if err := lease.Override(resolved); err != nil {
			sessionError(c, err)
			return
		}
	}
	if len(lease.Strategies) == 0 {
		sessionError(c, strategy.ErrNoStrategy)
		return
	}

	series, err := cache.Select(ctx, s.deps.Series, req.Series)
	if err != nil {
		sessionError(c, err)
		return
	}

	params := s.deps.Risk.Parameters()
	if req.Risk != nil {
		params = *req.Risk
	}

	result, err := s.deps.Dispatcher.Dispatch(ctx, analysis.Request{
		SessionID:  m.ID(),
		Strategies: lease.Strategies,
		Risk:       params,
		Images:     lease.Images,
		Series:     series,
	})
	if err != nil {
		sessionError(c, err)
		return
	}
	successResponse(c, gin.H{"result": result, "aborted": result.Aborted()})
}
