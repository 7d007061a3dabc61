package models_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/ubertone/peacock-go/internal/fault"
	"github.com/ubertone/peacock-go/internal/models"
)

func TestAppError_JSON(t *testing.T) {
	appErr := models.ErrNotFound("no profile yet")

	data, err := json.Marshal(appErr)
	if err != nil {
		t.Fatalf("json.Marshal(AppError): %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}

	if _, ok := m["error"]; !ok {
		t.Error("AppError JSON missing 'error' field")
	}
	if _, ok := m["message"]; !ok {
		t.Error("AppError JSON missing 'message' field")
	}
	if _, ok := m["status"]; ok {
		t.Error("AppError JSON should not contain 'status' field (json:\"-\")")
	}
}

func TestAppError_ErrorConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *models.AppError
		status int
		code   string
	}{
		{"NotFound", models.ErrNotFound("not found"), 404, "NOT_FOUND"},
		{"BadRequest", models.ErrBadRequest("bad request"), 400, "BAD_REQUEST"},
		{"Internal", models.ErrInternal("internal error"), 500, "INTERNAL"},
		{"Conflict", models.ErrConflict("conflict"), 409, "CONFLICT"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Status != tc.status {
				t.Errorf("%s.Status = %d, want %d", tc.name, tc.err.Status, tc.status)
			}
			if tc.err.Code != tc.code {
				t.Errorf("%s.Code = %q, want %q", tc.name, tc.err.Code, tc.code)
			}
			if tc.err.Error() == "" {
				t.Errorf("%s.Error() is empty", tc.name)
			}
		})
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"configuration", fault.Configuration("acoustic: from user config", "f0 above f_sys"), 400, "BAD_CONFIGURATION"},
		{"timeout", fault.Timeout("modbus: read", "no answer"), 504, "DEVICE_TIMEOUT"},
		{"transport", fault.Transport("modbus: read", errors.New("EOF")), 502, "DEVICE_UNREACHABLE"},
		{"rejected", fault.Rejected("modbus: write", 0x90, []byte{2}), 502, "DEVICE_REJECTED"},
		{"format", fault.Format("profile: decode", "short block"), 502, "BAD_DEVICE_DATA"},
		{"wrapped", fmt.Errorf("device: read config 0: %w", fault.Timeout("modbus: read", "crc")), 504, "DEVICE_TIMEOUT"},
		{"app error", models.ErrConflict("busy"), 409, "CONFLICT"},
		{"other", errors.New("boom"), 500, "INTERNAL"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := models.FromError(tc.err)
			if got.Status != tc.status || got.Code != tc.code {
				t.Errorf("FromError(%v) = %d %s; want %d %s", tc.err, got.Status, got.Code, tc.status, tc.code)
			}
		})
	}
}

func TestStateDeepCopy(t *testing.T) {
	s := models.State{Slots: []models.Slot{{Slot: 0, Registers: []int16{1, 2, 3}}}}
	cp := s.DeepCopy()
	cp.Slots[0].Registers[0] = 99
	cp.Slots[0].Slot = 2
	if s.Slots[0].Registers[0] != 1 || s.Slots[0].Slot != 0 {
		t.Errorf("DeepCopy shares memory: %+v", s.Slots[0])
	}
}
