package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stockroom-hq/stockroom-backend/api/responses"
	"github.com/stockroom-hq/stockroom-backend/api/validators"
	"github.com/stockroom-hq/stockroom-backend/internal/fulfillment"
	"github.com/stockroom-hq/stockroom-backend/internal/routing"
	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
	pkgerrors "github.com/stockroom-hq/stockroom-backend/pkg/errors"
	"github.com/stockroom-hq/stockroom-backend/pkg/logger"
)

// BroadcastStatus is a pure read of one routing round, including responses.
func BroadcastStatus(svc routing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		broadcastID, err := parseBroadcastID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		broadcast, err := svc.GetStatus(r.Context(), broadcastID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, broadcast)
	}
}

type supplierResponseBody struct {
	SupplierID   string `json:"supplier_id" validate:"required,uuid4"`
	ResponseType string `json:"response_type" validate:"required,oneof=accept reject"`
}

// RecordSupplierResponse stores one supplier's accept/reject answer.
func RecordSupplierResponse(svc routing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		broadcastID, err := parseBroadcastID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body supplierResponseBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		supplierID, err := uuid.Parse(body.SupplierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid supplier id"))
			return
		}
		responseType, err := enums.ParseSupplierResponseType(body.ResponseType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid response type"))
			return
		}

		response, err := svc.RecordResponse(r.Context(), routing.ResponseInput{
			BroadcastID:  broadcastID,
			SupplierID:   supplierID,
			ResponseType: responseType,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, response)
	}
}

type acceptBroadcastBody struct {
	SupplierID string `json:"supplier_id" validate:"required,uuid4"`
}

// AcceptBroadcast is the winner-selection entry point: exactly one caller
// per broadcast wins; losers receive LOST_RACE with the winner's id.
func AcceptBroadcast(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		broadcastID, err := parseBroadcastID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body acceptBroadcastBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		supplierID, err := uuid.Parse(body.SupplierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid supplier id"))
			return
		}

		order, err := svc.HandleWinner(r.Context(), broadcastID, supplierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func parseBroadcastID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "broadcastId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "broadcast id is required")
	}
	broadcastID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid broadcast id")
	}
	return broadcastID, nil
}
