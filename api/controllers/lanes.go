package controllers

import (
	"context"
	"net/http"

	"github.com/smartpay-pos/smartpay-backend/api/responses"
	"github.com/smartpay-pos/smartpay-backend/api/validators"
	"github.com/smartpay-pos/smartpay-backend/internal/cart"
	"github.com/smartpay-pos/smartpay-backend/internal/lanes"
	pkgerrors "github.com/smartpay-pos/smartpay-backend/pkg/errors"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
)

const maxDeviceIDLen = 64

type laneService interface {
	Bind(ctx context.Context, deviceID string, userID int64) (*lanes.Binding, error)
	Release(ctx context.Context, deviceID string) error
	Scan(ctx context.Context, deviceID string, tags []string) (int64, *cart.AddResult, error)
}

// LaneBind attaches a checkout lane device to a shopper.
func LaneBind(svc laneService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lane service unavailable"))
			return
		}
		deviceID, err := validators.PathParam(r, "deviceId", maxDeviceIDLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload bindLaneRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		binding, err := svc.Bind(r.Context(), deviceID, payload.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, laneBindingResponse{
			DeviceID:   binding.DeviceID,
			UserID:     binding.UserID,
			TTLSeconds: int(binding.TTL.Seconds()),
		})
	}
}

// LaneRelease detaches whoever is bound to the lane.
func LaneRelease(svc laneService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lane service unavailable"))
			return
		}
		deviceID, err := validators.PathParam(r, "deviceId", maxDeviceIDLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Release(r.Context(), deviceID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// LaneScan adds RFID tags read at the lane to the bound shopper's cart.
func LaneScan(svc laneService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lane service unavailable"))
			return
		}
		deviceID, err := validators.PathParam(r, "deviceId", maxDeviceIDLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload scanRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, result, err := svc.Scan(r.Context(), deviceID, payload.Tags)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, scanResponse{
			UserID:      userID,
			CartID:      result.CartID,
			Added:       nonNil(result.Added),
			UnknownTags: nonNil(result.UnknownTags),
		})
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

type bindLaneRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

type scanRequest struct {
	Tags []string `json:"tags" validate:"required,min=1,max=200,dive,notblank"`
}

type laneBindingResponse struct {
	DeviceID   string `json:"device_id"`
	UserID     int64  `json:"user_id"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type scanResponse struct {
	UserID      int64    `json:"user_id"`
	CartID      int64    `json:"cart_id"`
	Added       []string `json:"added"`
	UnknownTags []string `json:"unknown_tags"`
}
