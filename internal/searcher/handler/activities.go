package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/activity"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/consumer"
	apperrors "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/logger"
)

const maxActivityBody = 8 << 20

// ActivityQueue is the part of *activity.Queue served over HTTP.
type ActivityQueue interface {
	consumer.Registrar
	Wait(ctx context.Context, id int64) error
	Status() activity.Status
	Pending() int
}

type ActivityHandler struct {
	queue  ActivityQueue
	logger *slog.Logger
}

func NewActivityHandler(queue ActivityQueue) *ActivityHandler {
	return &ActivityHandler{
		queue:  queue,
		logger: slog.Default().With("component", "activity-handler"),
	}
}

type activityResponse struct {
	ID    int64  `json:"id"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// Register handles POST /api/v1/activities. With ?wait=true the response is
// sent once the activity has been applied to the index.
func (h *ActivityHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var event consumer.ActivityEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActivityBody))
	if err := dec.Decode(&event); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid activity body: "+err.Error())
		return
	}

	id, err := h.queue.Register(ctx, event.Activity())
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidInput) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.FromContext(ctx).Error("activity registration failed",
			"type", event.Type,
			"node_id", event.NodeID,
			"error", err,
		)
		h.writeError(w, registrationStatus(err), "activity registration failed")
		return
	}
	logger.FromContext(ctx).Info("activity registered", "id", id, "type", event.Type, "node_id", event.NodeID)

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		h.writeJSON(w, http.StatusAccepted, activityResponse{ID: id, State: string(activity.Waiting)})
		return
	}
	h.respondWait(w, r, id)
}

// Wait handles GET /api/v1/activities/{id}, blocking until the activity
// has been applied.
func (h *ActivityHandler) Wait(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "activity id must be a positive integer")
		return
	}
	h.respondWait(w, r, id)
}

func (h *ActivityHandler) respondWait(w http.ResponseWriter, r *http.Request, id int64) {
	err := h.queue.Wait(r.Context(), id)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, activityResponse{ID: id, State: string(activity.Done)})
	case errors.Is(err, activity.ErrNotApplied):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, activity.ErrQueueClosed):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	case isClientGone(err):
		h.logger.Debug("client stopped waiting", "id", id)
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "activity still pending")
	default:
		// The activity ran and failed; it stays in the gap list for retry.
		h.writeJSON(w, http.StatusOK, activityResponse{ID: id, State: "Failed", Error: err.Error()})
	}
}

// Status handles GET /api/v1/activities.
func (h *ActivityHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  h.queue.Status(),
		"pending": h.queue.Pending(),
	})
}

func registrationStatus(err error) int {
	if errors.Is(err, activity.ErrQueueClosed) {
		return http.StatusServiceUnavailable
	}
	return apperrors.HTTPStatusCode(err)
}

func (h *ActivityHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data, h.logger)
}

func (h *ActivityHandler) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message}, h.logger)
}
