package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockroom-hq/stockroom-backend/api/responses"
	"github.com/stockroom-hq/stockroom-backend/api/validators"
	"github.com/stockroom-hq/stockroom-backend/internal/creditledger"
	pkgerrors "github.com/stockroom-hq/stockroom-backend/pkg/errors"
	"github.com/stockroom-hq/stockroom-backend/pkg/logger"
)

const (
	defaultEntriesLimit = 100
	maxEntriesLimit     = 500
)

// AvailableCredit recomputes the derived balance on every read. The optional
// `amount` query parameter adds an advisory can-reserve answer.
func AvailableCredit(svc creditledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, supplierID, err := parseAccountPair(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		available, err := svc.GetAvailableCredit(r.Context(), buyerID, supplierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payload := map[string]any{
			"buyer_id":    buyerID,
			"supplier_id": supplierID,
			"available":   available,
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("amount")); raw != "" {
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount"))
				return
			}
			ok, err := svc.CanReserve(r.Context(), buyerID, supplierID, amount)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			payload["can_reserve"] = ok
		}
		responses.WriteSuccess(w, payload)
	}
}

// LedgerEntries returns the append-only entry log for one credit account.
func LedgerEntries(svc creditledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, supplierID, err := parseAccountPair(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultEntriesLimit, 1, maxEntriesLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := svc.Entries(r.Context(), buyerID, supplierID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entries)
	}
}

type createAccountBody struct {
	BuyerID    string `json:"buyer_id" validate:"required,uuid4"`
	SupplierID string `json:"supplier_id" validate:"required,uuid4"`
	Limit      string `json:"limit" validate:"required"`
}

// CreateCreditAccount provisions a credit line for a buyer-supplier pair.
func CreateCreditAccount(svc creditledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createAccountBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		buyerID, supplierID, err := parsePairStrings(body.BuyerID, body.SupplierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := decimal.NewFromString(body.Limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid limit"))
			return
		}

		account, err := svc.CreateAccount(r.Context(), creditledger.CreateAccountInput{
			BuyerID:    buyerID,
			SupplierID: supplierID,
			Limit:      limit,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, account)
	}
}

type blockAccountBody struct {
	BuyerID    string `json:"buyer_id" validate:"required,uuid4"`
	SupplierID string `json:"supplier_id" validate:"required,uuid4"`
	Blocked    bool   `json:"blocked"`
}

// SetAccountBlock flips the account block flag; blocked accounts refuse new
// reservations regardless of available credit.
func SetAccountBlock(svc creditledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body blockAccountBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		buyerID, supplierID, err := parsePairStrings(body.BuyerID, body.SupplierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SetBlocked(r.Context(), buyerID, supplierID, body.Blocked); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"buyer_id":    buyerID,
			"supplier_id": supplierID,
			"blocked":     body.Blocked,
		})
	}
}

type adjustmentBody struct {
	BuyerID    string  `json:"buyer_id" validate:"required,uuid4"`
	SupplierID string  `json:"supplier_id" validate:"required,uuid4"`
	Amount     string  `json:"amount" validate:"required"`
	Memo       *string `json:"memo" validate:"omitempty,max=256"`
}

// RecordAdjustment writes a signed manual correction to the ledger.
func RecordAdjustment(svc creditledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body adjustmentBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		buyerID, supplierID, err := parsePairStrings(body.BuyerID, body.SupplierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := decimal.NewFromString(body.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount"))
			return
		}

		entry, err := svc.RecordAdjustment(r.Context(), creditledger.AdjustmentInput{
			BuyerID:    buyerID,
			SupplierID: supplierID,
			Amount:     amount,
			Memo:       body.Memo,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, entry)
	}
}

type releaseBody struct {
	Reason string `json:"reason" validate:"required,min=3,max=256"`
}

// ReleaseReservation is the manual escape hatch for operators: it releases
// an ACTIVE hold without touching the order's status.
func ReleaseReservation(svc creditledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body releaseBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reservation, err := svc.Release(r.Context(), orderID, validators.SanitizeString(body.Reason, 256))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reservation)
	}
}

func parseAccountPair(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	return parsePairStrings(chi.URLParam(r, "buyerId"), chi.URLParam(r, "supplierId"))
}

func parsePairStrings(rawBuyer, rawSupplier string) (uuid.UUID, uuid.UUID, error) {
	buyerID, err := uuid.Parse(strings.TrimSpace(rawBuyer))
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid buyer id")
	}
	supplierID, err := uuid.Parse(strings.TrimSpace(rawSupplier))
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid supplier id")
	}
	return buyerID, supplierID, nil
}
