package handler

import (
	"net/http"
	"time"

	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/efreitasn/exchangecore/internal/service"
	"github.com/efreitasn/exchangecore/internal/store"
)

// SnapshotHandler triggers and lists checkpoints.
type SnapshotHandler struct {
	exchange *service.Exchange
	now      func() time.Time
}

// NewSnapshotHandler creates a new SnapshotHandler.
func NewSnapshotHandler(exchange *service.Exchange) *SnapshotHandler {
	return &SnapshotHandler{exchange: exchange, now: time.Now}
}

// createSnapshotRequest is the optional body of POST /snapshots.
type createSnapshotRequest struct {
	SnapshotID int64 `json:"snapshot_id"`
}

type manifestResponse struct {
	SnapshotID     int64  `json:"snapshot_id"`
	InstanceID     string `json:"instance_id"`
	Seq            int64  `json:"seq"`
	RiskShards     int    `json:"risk_shards"`
	MatchingShards int    `json:"matching_shards"`
	CreatedAt      string `json:"created_at"`
}

func toManifestResponse(mf store.Manifest) manifestResponse {
	return manifestResponse{
		SnapshotID:     mf.SnapshotID,
		InstanceID:     mf.InstanceID.String(),
		Seq:            mf.Seq,
		RiskShards:     mf.RiskShards,
		MatchingShards: mf.MatchingShards,
		CreatedAt:      mf.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Create handles POST /snapshots. Without a snapshot id in the body the
// current unix time in milliseconds is used.
func (h *SnapshotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSnapshotRequest
	if r.ContentLength != 0 {
		if err := ParseJSON(r, &req); err != nil {
			mapExchangeError(w, err)
			return
		}
	}
	if req.SnapshotID < 0 {
		mapExchangeError(w, &domain.ValidationError{Message: "snapshot_id must be positive"})
		return
	}
	if req.SnapshotID == 0 {
		req.SnapshotID = h.now().UnixMilli()
	}

	mf, err := h.exchange.Checkpoint(r.Context(), req.SnapshotID)
	if err != nil {
		mapExchangeError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toManifestResponse(mf))
}

// Latest handles GET /snapshots/latest.
func (h *SnapshotHandler) Latest(w http.ResponseWriter, r *http.Request) {
	mf, err := h.exchange.LatestManifest()
	if err != nil {
		mapExchangeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toManifestResponse(mf))
}
