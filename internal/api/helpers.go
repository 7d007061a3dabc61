// Package api implements the HTTP API of the acquisition service.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ubertone/peacock-go/internal/events"
	"github.com/ubertone/peacock-go/internal/identity"
	"github.com/ubertone/peacock-go/internal/models"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctrl   Controller
	events EventBus
}

// Controller is the interface the handlers use to reach the acquisition.
type Controller interface {
	State() models.State
	Info() identity.Info
	Last() (models.Measurement, bool)
	Measure(ctx context.Context, slot *int) (models.Measurement, error)
}

// EventBus is the interface for subscribing to measurements.
type EventBus interface {
	Subscribe(id string) <-chan events.Delivery
	Unsubscribe(id string)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err as a JSON AppError response.
func writeError(w http.ResponseWriter, err error) {
	appErr := models.FromError(err)
	writeJSON(w, appErr.Status, appErr)
}
