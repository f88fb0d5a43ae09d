package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/eventbus"
	"example.com/commerce/internal/eventstore"
	"example.com/commerce/internal/repository"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	requestTimeout  = 5 * time.Second
)

// EventResponse is a stored event with its store position
type EventResponse struct {
	Position  int64        `json:"position"`
	Version   int          `json:"version"`
	Published bool         `json:"published"`
	Event     domain.Event `json:"event"`
}

// EventsResponse is one page of the global feed
type EventsResponse struct {
	Events []EventResponse `json:"events"`
	Next   int64           `json:"next"`
}

// AggregateResponse is the current state of one aggregate
type AggregateResponse struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Version int         `json:"version"`
	State   interface{} `json:"state"`
}

// CommandRequest is the body of POST /commands/:service
type CommandRequest struct {
	CommandType   string          `json:"commandType" binding:"required"`
	Payload       json.RawMessage `json:"payload" binding:"required"`
	CorrelationID string          `json:"correlationId"`
}

func toResponses(stored []eventstore.StoredEvent) []EventResponse {
	out := make([]EventResponse, 0, len(stored))
	for _, se := range stored {
		out = append(out, EventResponse{
			Position:  se.ID,
			Version:   se.Version,
			Published: se.Published,
			Event:     se.Event,
		})
	}
	return out
}

// getStream returns the events of one aggregate after ?from=version
func (s *Server) getStream(c *gin.Context) {
	from, err := queryInt(c, "from", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	stored, err := s.deps.Store.GetEvents(ctx, c.Param("id"), int(from))
	if err != nil {
		log.Error().Err(err).Str("aggregateID", c.Param("id")).Msg("Failed to load stream")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stream"})
		return
	}
	if len(stored) == 0 && from == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	c.JSON(http.StatusOK, toResponses(stored))
}

// getAuditHistory returns the indexed history of one aggregate
func (s *Server) getAuditHistory(c *gin.Context) {
	if s.deps.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit index is disabled"})
		return
	}
	size, err := queryInt(c, "limit", defaultPageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	docs, err := s.deps.Audit.History(ctx, c.Param("id"), int(min(size, maxPageSize)))
	if err != nil {
		log.Error().Err(err).Str("aggregateID", c.Param("id")).Msg("Failed to search audit index")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to search audit index"})
		return
	}
	c.JSON(http.StatusOK, docs)
}

// getEvents pages the global feed: ?from=position&limit=n&type=eventType
func (s *Server) getEvents(c *gin.Context) {
	from, err := queryInt(c, "from", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	limit = min(limit, maxPageSize)

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	var stored []eventstore.StoredEvent
	if eventType := c.Query("type"); eventType != "" {
		stored, err = s.deps.Store.GetEventsByType(ctx, eventType, from, int(limit))
	} else {
		stored, err = s.deps.Store.GetAllEvents(ctx, from, int(limit))
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}

	c.JSON(http.StatusOK, EventsResponse{
		Events: toResponses(stored),
		Next:   eventstore.LastPosition(stored, from),
	})
}

// getRealtime reads the real-time stream after an entry id: ?from=entryID&count=n
func (s *Server) getRealtime(c *gin.Context) {
	stream := s.deps.Bus.Stream()
	if stream == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "real-time stream is disabled"})
		return
	}
	count, err := queryInt(c, "count", defaultPageSize)
	if err != nil || count <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a positive integer"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	entries, err := stream.Read(ctx, c.Query("from"), min(count, maxPageSize))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read real-time stream")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to read real-time stream"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

// sendCommand puts a command on the command queue of :service
func (s *Server) sendCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd, err := eventbus.NewCommand(req.CommandType, req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd.Metadata.UserID = c.GetHeader("X-User-ID")
	cmd.Metadata.CorrelationID = req.CorrelationID
	if cmd.Metadata.CorrelationID == "" {
		cmd.Metadata.CorrelationID = c.GetString(requestIDKey)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := s.deps.Bus.PublishCommand(ctx, c.Param("service"), cmd); err != nil {
		log.Error().Err(err).Str("commandType", req.CommandType).Msg("Failed to send command")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to send command"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"commandId": cmd.CommandID})
}

// aggregateState serves the current state of one aggregate type
func aggregateState[T domain.Aggregate, S any](get func(context.Context, string) (T, bool, error), state func(T) S) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		agg, ok, err := get(ctx, c.Param("id"))
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			log.Error().Err(err).Str("aggregateID", c.Param("id")).Msg("Failed to load aggregate")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load aggregate"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "aggregate not found"})
			return
		}

		c.JSON(http.StatusOK, AggregateResponse{
			ID:      agg.ID(),
			Type:    agg.AggregateType(),
			Version: agg.Version(),
			State:   state(agg),
		})
	}
}

func queryInt(c *gin.Context, key string, def int64) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return v, nil
}
