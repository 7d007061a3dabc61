package models

// MeasureRequest is the POST /api/measure body. Without a slot the next
// slot of the configuration order is measured.
type MeasureRequest struct {
	Slot *int `json:"slot,omitempty"`
}
