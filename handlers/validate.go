package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"bims.app/cloud/internal/logger"
	"bims.app/cloud/models"
	"bims.app/cloud/storage"
)

type ValidateRequest struct {
	Email    string `json:"email"`
	DeviceID string `json:"device_id"`
}

type ValidateResponse struct {
	Valid       bool      `json:"valid"`
	Reason      string    `json:"reason,omitempty"`
	LicenseTier string    `json:"license_tier,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	MaxDevices  int       `json:"max_devices,omitempty"`
}

// ValidateLicense is called by the desktop app on startup. It checks the
// license is active and unexpired, registers the calling device if the cap
// allows, and counts the validation.
func (s *Server) ValidateLicense(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Email == "" || req.DeviceID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "email and device_id are required")
		return
	}

	uid, err := s.Identity.LookupByEmail(r.Context(), req.Email)
	if errors.Is(err, storage.ErrUserNotFound) {
		writeJSON(w, http.StatusOK, ValidateResponse{Valid: false, Reason: "License not found"})
		return
	}
	if err != nil {
		logger.Error("Identity lookup failed during validation", map[string]interface{}{
			"email": req.Email,
			"error": err.Error(),
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Could not validate license")
		return
	}

	now := time.Now()
	var denied string

	user, err := s.Storage.UpdateUser(r.Context(), uid, func(current *models.UserLicense) (*models.UserLicense, error) {
		if current == nil {
			denied = "License not found"
			return nil, storage.ErrUnchanged
		}
		if !current.Active {
			denied = "License is not active"
			return nil, storage.ErrUnchanged
		}
		if !current.ExpiresAt.After(now) {
			denied = "License has expired"
			return nil, storage.ErrUnchanged
		}

		if current.Devices == nil {
			current.Devices = make(map[string]time.Time)
		}
		if _, known := current.Devices[req.DeviceID]; !known && len(current.Devices) >= current.MaxDevices {
			denied = "Device limit reached"
			return nil, storage.ErrUnchanged
		}

		current.Devices[req.DeviceID] = now
		current.Validations++
		return current, nil
	})

	if errors.Is(err, storage.ErrUnchanged) {
		writeJSON(w, http.StatusOK, ValidateResponse{Valid: false, Reason: denied})
		return
	}
	if err != nil {
		logger.Error("License validation update failed", map[string]interface{}{
			"email": req.Email,
			"error": err.Error(),
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Could not validate license")
		return
	}

	logger.Info("License validated", map[string]interface{}{
		"email":     req.Email,
		"device_id": req.DeviceID,
		"tier":      user.LicenseTier,
	})

	writeJSON(w, http.StatusOK, ValidateResponse{
		Valid:       true,
		LicenseTier: user.LicenseTier,
		ExpiresAt:   user.ExpiresAt,
		MaxDevices:  user.MaxDevices,
	})
}
