package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cr0ssing/iota-local-gtta/dag"
	"github.com/cr0ssing/iota-local-gtta/logger"
	"github.com/cr0ssing/iota-local-gtta/models"
	"github.com/cr0ssing/iota-local-gtta/tipselection"
)

// TipSelector selects tips from the local replica.
type TipSelector interface {
	SelectTips(ctx context.Context, depth int, reference string) (models.TipPair, error)
}

// RemoteSelector selects tips on the full node when the local replica is not deep enough yet.
type RemoteSelector interface {
	GetTransactionsToApprove(ctx context.Context, depth int, reference string) (models.TipPair, error)
}

// StatsSource reports the size of the replica.
type StatsSource interface {
	Stats() dag.Stats
}

// CheckpointSource returns the last stored checkpoint.
type CheckpointSource interface {
	GetLatestCheckpoint() (*models.Checkpoint, error)
}

// Handler contains the HTTP handlers of the tip selection API
type Handler struct {
	selector       TipSelector
	remote         RemoteSelector
	stats          StatsSource
	checkpoints    CheckpointSource
	requestTimeout time.Duration
}

// NewHandler creates and returns a new Handler instance. remote may be nil to disable the
// fallback to the full node.
func NewHandler(selector TipSelector, remote RemoteSelector, stats StatsSource, checkpoints CheckpointSource, requestTimeout time.Duration) *Handler {
	return &Handler{
		selector:       selector,
		remote:         remote,
		stats:          stats,
		checkpoints:    checkpoints,
		requestTimeout: requestTimeout,
	}
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Tangle     dag.Stats          `json:"tangle"`
	Checkpoint *models.Checkpoint `json:"checkpoint"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// GetTips handles GET /tips?depth=N[&reference=H] and returns a trunk and branch to approve
func (h *Handler) GetTips(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	depth, err := strconv.Atoi(query.Get("depth"))
	if err != nil || depth < 0 {
		writeError(w, http.StatusBadRequest, "depth must be a non-negative integer")
		return
	}
	reference := query.Get("reference")

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	tips, err := h.selector.SelectTips(ctx, depth, reference)
	if errors.Is(err, tipselection.ErrDepthUnavailable) && h.remote != nil {
		logger.Logger.Info("Depth not available locally, asking node", zap.Int("depth", depth))
		tips, err = h.remote.GetTransactionsToApprove(ctx, depth, reference)
		if err != nil {
			logger.Logger.Error("Remote tip selection failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}
	if err != nil {
		logger.Logger.Warn("Tip selection failed", zap.Int("depth", depth), zap.String("reference", reference), zap.Error(err))
		writeError(w, statusOf(err), err.Error())
		return
	}

	logger.Logger.Debug("Selected tips",
		zap.String("trunk", tips.Trunk),
		zap.String("branch", tips.Branch),
		zap.Duration("duration", time.Since(start)))
	writeJSON(w, http.StatusOK, tips)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, tipselection.ErrInvalidReference):
		return http.StatusBadRequest
	case errors.Is(err, tipselection.ErrDepthUnavailable),
		errors.Is(err, tipselection.ErrNoConsistentTip),
		errors.Is(err, tipselection.ErrNoConsistentEntryPoints):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Status reports the size of the replica and the last stored checkpoint
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	cp, err := h.checkpoints.GetLatestCheckpoint()
	if err != nil {
		logger.Logger.Error("Failed to read checkpoint", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Tangle: h.stats.Stats(), Checkpoint: cp})
}

// Health reports that the service is up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
