package server

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/calder-hwy/poolhouse/internal/domain"
	"github.com/calder-hwy/poolhouse/internal/modules/router"
	"github.com/calder-hwy/poolhouse/internal/modules/vault"
)

// mulDiv returns floor(a*b/c) without overflowing the intermediate product.
func mulDiv(a, b, c int64) int64 {
	n := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	return n.Div(n, big.NewInt(c)).Int64()
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps accounting errors onto HTTP statuses
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAllocation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientLiquidity),
		errors.Is(err, domain.ErrNotReady),
		errors.Is(err, domain.ErrNothingPending):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// operatorOnly guards mutating endpoints with a bearer token
func (s *Server) operatorOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token != s.operatorToken {
			writeDomainError(w, domain.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) lookupVault(w http.ResponseWriter, r *http.Request) (*vault.Vault, bool) {
	bucket := chi.URLParam(r, "bucket")
	v, ok := s.vaults[bucket]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown bucket: "+bucket)
		return nil, false
	}
	return v, true
}

func (s *Server) lookupQueue(w http.ResponseWriter, r *http.Request) (*router.Queue, bool) {
	bucket := chi.URLParam(r, "bucket")
	q, ok := s.queues[bucket]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown bucket: "+bucket)
		return nil, false
	}
	return q, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// handleHealth returns basic health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// --- Participant surface ---

type enqueueDepositRequest struct {
	Participant string `json:"participant"`
	Amount      int64  `json:"amount"`
}

func (s *Server) handleEnqueueDeposit(w http.ResponseWriter, r *http.Request) {
	q, ok := s.lookupQueue(w, r)
	if !ok {
		return
	}
	var req enqueueDepositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Participant == "" {
		writeError(w, http.StatusBadRequest, "participant is required")
		return
	}
	if err := q.EnqueueDeposit(req.Participant, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"participant":     req.Participant,
		"pending_deposit": q.GetPendingDeposit(req.Participant),
		"next_batch_time": q.NextBatchTime(),
	})
}

type enqueueWithdrawRequest struct {
	Participant string `json:"participant"`
	Shares      int64  `json:"shares"`
}

func (s *Server) handleEnqueueWithdraw(w http.ResponseWriter, r *http.Request) {
	q, ok := s.lookupQueue(w, r)
	if !ok {
		return
	}
	var req enqueueWithdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Participant == "" {
		writeError(w, http.StatusBadRequest, "participant is required")
		return
	}
	if err := q.EnqueueWithdraw(req.Participant, req.Shares); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"participant":      req.Participant,
		"pending_withdraw": q.GetPendingWithdraw(req.Participant),
		"next_batch_time":  q.NextBatchTime(),
	})
}

func (s *Server) handleGetPending(w http.ResponseWriter, r *http.Request) {
	q, ok := s.lookupQueue(w, r)
	if !ok {
		return
	}
	participant := chi.URLParam(r, "participant")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"participant":             participant,
		"pending_deposit":         q.GetPendingDeposit(participant),
		"pending_withdraw_shares": q.GetPendingWithdraw(participant),
	})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	q, ok := s.lookupQueue(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, q.GetStatus())
}

// --- Operator surface: queue ---

type flushRequest struct {
	Kind string `json:"kind"` // "deposit", "withdraw" or "both"
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	q, ok := s.lookupQueue(w, r)
	if !ok {
		return
	}
	var req flushRequest
	if !decodeBody(w, r, &req) {
		return
	}

	switch req.Kind {
	case "deposit":
		result, err := q.FlushDeposits()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "withdraw":
		result, err := q.FlushWithdraws()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "both", "":
		deposits, withdrawals, err := q.FlushBoth()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"deposits":    deposits,
			"withdrawals": withdrawals,
		})
	default:
		writeError(w, http.StatusBadRequest, "kind must be deposit, withdraw or both")
	}
}

type intervalRequest struct {
	Seconds int64 `json:"seconds"`
}

func (s *Server) handleSetBatchInterval(w http.ResponseWriter, r *http.Request) {
	q, ok := s.lookupQueue(w, r)
	if !ok {
		return
	}
	var req intervalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := q.SetBatchInterval(time.Duration(req.Seconds) * time.Second); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"batch_interval_seconds": req.Seconds})
}

type minimumDepositRequest struct {
	Minimum int64 `json:"minimum"`
}

func (s *Server) handleSetMinimumDeposit(w http.ResponseWriter, r *http.Request) {
	q, ok := s.lookupQueue(w, r)
	if !ok {
		return
	}
	var req minimumDepositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := q.SetMinimumDeposit(req.Minimum); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"minimum_deposit": req.Minimum})
}

// --- Vault views ---

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	snapshot, err := v.GetSnapshot()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleGetHolder(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	participant := chi.URLParam(r, "participant")
	shares := v.BalanceOf(participant)

	// Value at the current share price, floor rounded like redemption.
	var value int64
	totalShares := v.TotalShares()
	if totalShares > 0 {
		totalAssets, err := v.TotalAssets()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		value = mulDiv(shares, totalAssets, totalShares)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"participant": participant,
		"shares":      shares,
		"value":       value,
	})
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	records, err := s.vaultRepo.RecentHarvests(v.Bucket(), 50)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	totalAssets, err := v.TotalAssets()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vault.ComputeYieldMetrics(v.Bucket(), records, totalAssets))
}

// --- Operator surface: vault ---

func (s *Server) handleCompound(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	record, err := v.Compound()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bucket":     record.Bucket,
		"gross":      record.Gross,
		"fee":        record.Fee,
		"reinvested": record.Reinvested,
		"breakdown":  record.Breakdown,
	})
}

type allocationsRequest struct {
	Allocations []struct {
		StrategyID string `json:"strategy_id"`
		WeightBps  int64  `json:"weight_bps"`
	} `json:"allocations"`
}

func (r allocationsRequest) toDomain() []domain.Allocation {
	allocs := make([]domain.Allocation, 0, len(r.Allocations))
	for _, a := range r.Allocations {
		allocs = append(allocs, domain.Allocation{StrategyID: a.StrategyID, WeightBps: a.WeightBps})
	}
	return allocs
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	var req allocationsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := v.Rebalance(req.toDomain()); err != nil {
		writeDomainError(w, err)
		return
	}
	snapshot, err := v.GetSnapshot()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleSetAllocations(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	var req allocationsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := v.SetAllocations(req.toDomain()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	recovered, err := v.EmergencyWithdraw()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"recovered": recovered})
}

type feeRateRequest struct {
	FeeRateBps int64 `json:"fee_rate_bps"`
}

func (s *Server) handleSetFeeRate(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	var req feeRateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := v.SetFeeRate(req.FeeRateBps); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"fee_rate_bps": req.FeeRateBps})
}

func (s *Server) handleSetHarvestInterval(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	var req intervalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := v.SetHarvestInterval(time.Duration(req.Seconds) * time.Second); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"harvest_interval_seconds": req.Seconds})
}

// --- Ledger ---

func (s *Server) handleGetLedgerBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	balance, err := s.ledger.BalanceOf(account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account,
		"balance": balance,
	})
}

type ledgerMoveRequest struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

func (s *Server) handleLedgerCredit(w http.ResponseWriter, r *http.Request) {
	var req ledgerMoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	if err := s.ledger.Credit(req.Account, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	balance, err := s.ledger.BalanceOf(req.Account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": req.Account,
		"balance": balance,
	})
}

func (s *Server) handleLedgerDebit(w http.ResponseWriter, r *http.Request) {
	var req ledgerMoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	if err := s.ledger.Debit(req.Account, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	balance, err := s.ledger.BalanceOf(req.Account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": req.Account,
		"balance": balance,
	})
}
