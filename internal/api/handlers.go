package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ubertone/peacock-go/internal/models"
)

func (h *Handlers) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.State())
}

func (h *Handlers) getInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Info())
}

// getConfig lists the programmed slots, requested and effective.
func (h *Handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.State().Slots)
}

func (h *Handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	m, ok := h.ctrl.Last()
	if !ok {
		writeError(w, models.ErrNotFound("no profile measured yet"))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// measure triggers one acquisition. An empty body measures the next slot
// of the configuration order.
func (h *Handlers) measure(w http.ResponseWriter, r *http.Request) {
	var req models.MeasureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, models.ErrBadRequest("invalid JSON: "+err.Error()))
		return
	}
	m, err := h.ctrl.Measure(r.Context(), req.Slot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
