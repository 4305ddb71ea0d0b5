package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gorilla/mux"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
	"github.com/couchcryptid/tank-monitor-service/internal/monitor"
)

// maxBodyBytes bounds command request bodies.
const maxBodyBytes = 4 << 10

// Fleet is the set of monitored tanks the API reads and commands.
type Fleet interface {
	Snapshots() []domain.Snapshot
	Tank(tankID string) (*monitor.Coordinator, error)
	RecordRefill(tankID string, volume *float64, at time.Time) (domain.Snapshot, error)
}

// API serves tank state and accepts manual refill commands.
type API struct {
	fleet  Fleet
	hub    *Hub
	logger *slog.Logger
}

// NewAPI returns an API over fleet. Snapshots produced by commands are
// broadcast through hub.
func NewAPI(fleet Fleet, hub *Hub, logger *slog.Logger) *API {
	return &API{fleet: fleet, hub: hub, logger: logger}
}

// Register mounts the tank routes on r.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/tanks", a.listTanks).Methods(http.MethodGet)
	r.HandleFunc("/tanks/{id}", a.getTank).Methods(http.MethodGet)
	r.HandleFunc("/tanks/{id}/refills", a.listRefills).Methods(http.MethodGet)
	r.HandleFunc("/tanks/{id}/consumption", a.listConsumption).Methods(http.MethodGet)
	r.HandleFunc("/tanks/{id}/refill", a.recordRefill).Methods(http.MethodPost)
	r.HandleFunc("/tanks/{id}/stream", a.stream).Methods(http.MethodGet)
}

type tankResponse struct {
	domain.Snapshot
	FillPercent float64 `json:"fill_percent"`
}

func newTankResponse(s domain.Snapshot) tankResponse {
	return tankResponse{Snapshot: s, FillPercent: s.FillPercent()}
}

type refillResponse struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	VolumeAdded *float64  `json:"volume_added"`
	TotalVolume float64   `json:"total_volume"`
	Source      string    `json:"source"`
}

type refillRequest struct {
	Volume    *float64   `json:"volume"`
	Timestamp *time.Time `json:"timestamp"`
}

func (a *API) listTanks(w http.ResponseWriter, _ *http.Request) {
	snapshots := a.fleet.Snapshots()
	tanks := make([]tankResponse, len(snapshots))
	for i, s := range snapshots {
		tanks[i] = newTankResponse(s)
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"tanks": tanks})
}

func (a *API) getTank(w http.ResponseWriter, r *http.Request) {
	c, ok := a.lookup(w, r)
	if !ok {
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, newTankResponse(c.Snapshot()))
}

func (a *API) listRefills(w http.ResponseWriter, r *http.Request) {
	c, ok := a.lookup(w, r)
	if !ok {
		return
	}
	history := c.RefillHistory()
	refills := make([]refillResponse, len(history))
	for i, rec := range history {
		refills[i] = refillResponse{
			ID:          rec.ID,
			Timestamp:   rec.Timestamp,
			VolumeAdded: rec.VolumeAdded,
			TotalVolume: rec.TotalVolumeAfter,
			Source:      string(rec.Source),
		}
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"tank_id": c.TankID(), "refills": refills})
}

func (a *API) listConsumption(w http.ResponseWriter, r *http.Request) {
	c, ok := a.lookup(w, r)
	if !ok {
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"tank_id": c.TankID(), "consumption": c.ConsumptionHistory()})
}

func (a *API) recordRefill(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req refillRequest
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var at time.Time
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	snap, err := a.fleet.RecordRefill(id, req.Volume, at)
	switch {
	case errors.Is(err, domain.ErrUnknownTank):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, domain.ErrInvalidReading):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		a.logger.Error("record refill failed", "tank_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.hub.Broadcast(snap)
	sharedobs.WriteJSON(w, http.StatusOK, newTankResponse(snap))
}

func (a *API) stream(w http.ResponseWriter, r *http.Request) {
	c, ok := a.lookup(w, r)
	if !ok {
		return
	}
	a.hub.Serve(w, r, c.TankID(), c.Snapshot())
}

func (a *API) lookup(w http.ResponseWriter, r *http.Request) (*monitor.Coordinator, bool) {
	c, err := a.fleet.Tank(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return c, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
