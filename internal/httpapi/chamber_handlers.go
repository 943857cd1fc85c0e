package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fruitripe.dev/chamber-hub/internal/store"
)

// rangeSpec pairs a lookback window with a row cap.
type rangeSpec struct {
	window time.Duration
	limit  int
}

// rangeSpecs enumerates the supported reading query ranges.
var rangeSpecs = map[string]rangeSpec{
	"1h":  {window: time.Hour, limit: 200},
	"24h": {window: 24 * time.Hour, limit: 1000},
	"7d":  {window: 7 * 24 * time.Hour, limit: 5000},
}

// eventsLimit caps the device-event feed.
const eventsLimit = 50

func (s *Server) handleListChambers(c *gin.Context) {
	claims := currentClaims(c)

	chambers, err := s.queries.ListChambersWithLatest(c.Request.Context(), claims.UserID)
	if err != nil {
		s.logger.Error("failed to list chambers", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, chambers)
}

func (s *Server) handleReadings(c *gin.Context) {
	claims := currentClaims(c)
	chamberID, ok := chamberParam(c)
	if !ok {
		return
	}

	spec, ok := rangeSpecs[c.DefaultQuery("range", "24h")]
	if !ok {
		spec = rangeSpecs["24h"]
	}

	since := time.Now().UTC().Add(-spec.window)
	readings, err := s.queries.ReadingsInRange(c.Request.Context(), chamberID, claims.UserID, since, spec.limit)
	if err != nil {
		s.logger.Error("failed to query readings", "chamber_id", chamberID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, readings)
}

func (s *Server) handleEvents(c *gin.Context) {
	claims := currentClaims(c)
	chamberID, ok := chamberParam(c)
	if !ok {
		return
	}

	events, err := s.queries.RecentDeviceEvents(c.Request.Context(), chamberID, claims.UserID, eventsLimit)
	if err != nil {
		s.logger.Error("failed to query device events", "chamber_id", chamberID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, events)
}

func (s *Server) handleListAlerts(c *gin.Context) {
	claims := currentClaims(c)
	chamberID, ok := chamberParam(c)
	if !ok {
		return
	}

	rules, err := s.queries.AlertRules(c.Request.Context(), chamberID, claims.UserID)
	if err != nil {
		s.logger.Error("failed to query alert rules", "chamber_id", chamberID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, rules)
}

type alertRuleRequest struct {
	Parameter string  `json:"parameter" binding:"required"`
	MinValue  float64 `json:"min_value"`
	MaxValue  float64 `json:"max_value"`
	Enabled   bool    `json:"enabled"`
}

func (s *Server) handleUpsertAlert(c *gin.Context) {
	claims := currentClaims(c)
	chamberID, ok := chamberParam(c)
	if !ok {
		return
	}

	var req alertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil || !store.ValidParameter(req.Parameter) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A valid parameter is required"})
		return
	}

	// A missing chamber and a foreign chamber produce the same 404.
	owned, err := s.queries.ChamberOwned(c.Request.Context(), chamberID, claims.UserID)
	if err != nil {
		s.logger.Error("failed to check chamber ownership", "chamber_id", chamberID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !owned {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chamber not found"})
		return
	}

	rule := &store.AlertRule{
		ChamberID: chamberID,
		Parameter: req.Parameter,
		MinValue:  req.MinValue,
		MaxValue:  req.MaxValue,
		Enabled:   req.Enabled,
	}
	if err := s.queries.UpsertAlertRule(c.Request.Context(), rule); err != nil {
		s.logger.Error("failed to upsert alert rule", "chamber_id", chamberID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// chamberParam parses the :id path segment. Responds 400 and returns false
// on a malformed id.
func chamberParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chamber id"})
		return 0, false
	}
	return uint(id), true
}
