package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/feed/internal/eventstore"
	"example.com/backstage/feed/internal/ingest"
	"example.com/backstage/feed/internal/models"
	"example.com/backstage/feed/internal/projector"
	"example.com/backstage/feed/internal/tracing"
)

const defaultPendingLimit = 10

// BatchIngester ingests decoded feed batches
type BatchIngester interface {
	Ingest(ctx context.Context, batch []json.RawMessage) ingest.Result
}

// ProjectorStats exposes projector progress
type ProjectorStats interface {
	Stats() projector.Stats
}

// FeedHandler serves ingestion and event log inspection
type FeedHandler struct {
	pipeline  BatchIngester
	events    eventstore.EventLog
	offsets   eventstore.OffsetIndex
	projector ProjectorStats
	tracer    tracing.Tracer
}

// NewFeedHandler creates a new feed handler. proj may be nil when no projector runs
// in this process.
func NewFeedHandler(
	pipeline BatchIngester,
	events eventstore.EventLog,
	offsets eventstore.OffsetIndex,
	proj ProjectorStats,
	tracer tracing.Tracer,
) *FeedHandler {
	if tracer == nil {
		tracer = tracing.Noop()
	}
	return &FeedHandler{
		pipeline:  pipeline,
		events:    events,
		offsets:   offsets,
		projector: proj,
		tracer:    tracer,
	}
}

// PendingQuery is the query string of the pending events endpoint
type PendingQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// OffsetResponse reports the high-water mark of one partition
type OffsetResponse struct {
	PartitionKey string `json:"partition_key"`
	LastOffset   int64  `json:"last_offset"`
}

// EventView is the JSON shape of a logged event
type EventView struct {
	ID           string          `json:"id"`
	PartitionKey string          `json:"partition_key"`
	Offset       int64           `json:"offset"`
	MsgType      string          `json:"msg_type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
}

func newEventView(event models.Event) EventView {
	view := EventView{
		ID:           event.ID,
		PartitionKey: event.PartitionKey,
		Offset:       event.Offset,
		MsgType:      event.MsgType,
		ReceivedAt:   event.ReceivedAt,
	}
	if json.Valid(event.Payload) {
		view.Payload = json.RawMessage(event.Payload)
	}
	return view
}

// HandleIngestBatch ingests a JSON array of feed messages
func (h *FeedHandler) HandleIngestBatch(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-ingest-batch")
	defer h.tracer.EndTransaction(txn)

	var batch []json.RawMessage
	if err := c.ShouldBindJSON(&batch); err != nil {
		log.Warn().Err(err).Msg("Rejected non-array batch body")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON array of messages"})
		return
	}

	result := h.pipeline.Ingest(c.Request.Context(), batch)
	h.tracer.AddAttribute(txn, "accepted", len(result.Accepted))

	c.JSON(http.StatusAccepted, result)
}

// HandleGetOffset returns the last accepted offset of a partition
func (h *FeedHandler) HandleGetOffset(c *gin.Context) {
	key := c.Param("key")

	offset, ok, err := h.offsets.GetLastOffset(c.Request.Context(), key)
	if err != nil {
		log.Error().Err(err).Str("partition_key", key).Msg("Failed to read offset")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read offset"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "partition not found"})
		return
	}

	c.JSON(http.StatusOK, OffsetResponse{PartitionKey: key, LastOffset: offset})
}

// HandleGetPending returns the oldest unprocessed events
func (h *FeedHandler) HandleGetPending(c *gin.Context) {
	var query PendingQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if query.Limit == 0 {
		query.Limit = defaultPendingLimit
	}

	batch, err := h.events.GetUnprocessedBatch(c.Request.Context(), query.Limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read pending events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read pending events"})
		return
	}

	views := make([]EventView, 0, len(batch))
	for _, event := range batch {
		views = append(views, newEventView(event))
	}

	c.JSON(http.StatusOK, gin.H{"events": views})
}

// HandleGetStats returns event log and projector statistics
func (h *FeedHandler) HandleGetStats(c *gin.Context) {
	stats, err := h.events.Stats(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read event log stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read stats"})
		return
	}

	resp := gin.H{"log": stats}
	if h.projector != nil {
		resp["projector"] = h.projector.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// RegisterRoutes registers the handler's routes
func (h *FeedHandler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/v1")
	v1.POST("/batches", h.HandleIngestBatch)
	v1.GET("/partitions/:key/offset", h.HandleGetOffset)
	v1.GET("/events/pending", h.HandleGetPending)
	v1.GET("/stats", h.HandleGetStats)
}
