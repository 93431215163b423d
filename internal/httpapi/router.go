// Package httpapi exposes a running viewer to the acquisition engine and to
// monitoring: Prometheus metrics, a health check, the current view and the
// queue of tiles the user asked to acquire.
package httpapi

import (
	"encoding/json"
	"net/http"

	"magellan/internal/acquisition"
	"magellan/internal/interaction"
	"magellan/internal/logging"
	"magellan/internal/viewport"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Viewer is the part of a session the API reads and drives.
type Viewer interface {
	View() viewport.State
	Mode() interaction.Mode
	SetMode(m interaction.Mode)
	DisplayedZ() float64
	NeedsUpdate() bool
	Queue() *acquisition.TileQueue
	TakeQueued() []acquisition.TileIndex
}

// Status is the body of GET /api/status.
type Status struct {
	Mode       string  `json:"mode"`
	Level      int     `json:"level"`
	OriginX    int     `json:"originX"`
	OriginY    int     `json:"originY"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Extent     string  `json:"extent"`
	DisplayedZ float64 `json:"displayedZ"`
	Queued     int     `json:"queued"`
	// Stale is set while the shown overlay belongs to a superseded render.
	Stale bool `json:"stale"`
}

// NewRouter builds the routes. gatherer may be nil, in which case /metrics is
// not served.
func NewRouter(v Viewer, gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statusOf(v))
	}).Methods(http.MethodGet)

	api.HandleFunc("/mode/{mode}", func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["mode"]
		mode, ok := interaction.ParseMode(name)
		if !ok {
			http.Error(w, "unknown mode "+name, http.StatusBadRequest)
			return
		}
		v.SetMode(mode)
		writeJSON(w, http.StatusOK, statusOf(v))
	}).Methods(http.MethodPut, http.MethodPost)

	api.HandleFunc("/queue", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, nonNil(v.Queue().Pending()))
	}).Methods(http.MethodGet)

	// The acquisition engine takes the queued tiles with DELETE.
	api.HandleFunc("/queue", func(w http.ResponseWriter, r *http.Request) {
		drained := v.TakeQueued()
		logging.Logger().Info("queue drained", "tiles", len(drained), "remote", r.RemoteAddr)
		writeJSON(w, http.StatusOK, nonNil(drained))
	}).Methods(http.MethodDelete)

	return router
}

func statusOf(v Viewer) Status {
	view := v.View()
	return Status{
		Mode:       v.Mode().String(),
		Level:      view.Level,
		OriginX:    view.Origin.X,
		OriginY:    view.Origin.Y,
		Width:      view.Width,
		Height:     view.Height,
		Extent:     view.Extent.String(),
		DisplayedZ: v.DisplayedZ(),
		Queued:     v.Queue().Len(),
		Stale:      v.NeedsUpdate(),
	}
}

// nonNil makes an empty queue encode as [] rather than null.
func nonNil(tiles []acquisition.TileIndex) []acquisition.TileIndex {
	if tiles == nil {
		return []acquisition.TileIndex{}
	}
	return tiles
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Logger().Warn("encode response", "err", err)
	}
}
