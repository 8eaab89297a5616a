package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"mintgate/session"
)

// ManagerSessions exposes a session.Manager through Sessions.
type ManagerSessions struct {
	Manager *session.Manager
}

func (m ManagerSessions) Create(ctx context.Context, p session.CreateParams) (SessionHandle, error) {
	s, err := m.Manager.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (m ManagerSessions) Get(id string) (SessionHandle, bool) {
	s, ok := m.Manager.Get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

func (m ManagerSessions) List() []session.GatewaySession { return m.Manager.List() }

type createSessionRequest struct {
	Network         string `json:"network,omitempty"`
	Asset           string `json:"asset"`
	From            string `json:"from"`
	To              string `json:"to"`
	DestAddress     string `json:"destinationAddress"`
	UserAddress     string `json:"userAddress,omitempty"`
	Nonce           string `json:"nonce,omitempty"`
	PHash           string `json:"pHash,omitempty"`
	SuggestedAmount string `json:"suggestedAmount,omitempty"`
	ExpiryTime      string `json:"expiryTime,omitempty"`
}

func (req createSessionRequest) params() (session.CreateParams, error) {
	p := session.CreateParams{
		Network:     req.Network,
		Asset:       req.Asset,
		SourceChain: req.From,
		DestChain:   req.To,
		DestAddress: req.DestAddress,
		UserAddress: req.UserAddress,
	}
	if req.Nonce != "" {
		nonce, err := parseHash(req.Nonce)
		if err != nil {
			return p, fmt.Errorf("nonce: %w", err)
		}
		p.Nonce = &nonce
	}
	if req.PHash != "" {
		phash, err := parseHash(req.PHash)
		if err != nil {
			return p, fmt.Errorf("pHash: %w", err)
		}
		p.PHash = phash
	}
	if req.SuggestedAmount != "" {
		amount, ok := new(big.Int).SetString(req.SuggestedAmount, 10)
		if !ok || amount.Sign() < 0 {
			return p, errors.New("suggestedAmount must be a non-negative integer")
		}
		p.SuggestedAmount = amount
	}
	if req.ExpiryTime != "" {
		expiry, err := time.Parse(time.RFC3339, req.ExpiryTime)
		if err != nil {
			return p, fmt.Errorf("expiryTime: %w", err)
		}
		p.ExpiryTime = expiry
	}
	return p, nil
}

func parseHash(raw string) (common.Hash, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(trimmed) != 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("expected %d hex bytes", common.HashLength)
	}
	b := common.FromHex(trimmed)
	if len(b) != common.HashLength {
		return common.Hash{}, errors.New("invalid hex")
	}
	return common.BytesToHash(b), nil
}

func (a *api) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	params, err := req.params()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s, err := a.cfg.Sessions.Create(r.Context(), params)
	if err != nil {
		status := statusFor(err)
		a.logger.Warn("create session failed", slog.String("asset", params.Asset), slog.Any("error", err))
		writeJSONError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

func (a *api) listSessions(w http.ResponseWriter, r *http.Request) {
	list := a.cfg.Sessions.List()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := list[:0]
		for _, gs := range list {
			if string(gs.State) == state {
				filtered = append(filtered, gs)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []session.GatewaySession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (a *api) lookup(w http.ResponseWriter, r *http.Request) (SessionHandle, bool) {
	id := chi.URLParam(r, "id")
	s, ok := a.cfg.Sessions.Get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("%w: %s", session.ErrNotFound, id))
		return nil, false
	}
	return s, true
}

func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (a *api) retrySession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Retry(); err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.Snapshot())
}

func (a *api) depositCommand(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	hash := chi.URLParam(r, "hash")
	var cmd func(string) error
	switch chi.URLParam(r, "action") {
	case "claim":
		cmd = s.Claim
	case "reject":
		cmd = s.Reject
	case "ack":
		cmd = s.Acknowledge
	case "retry":
		cmd = s.RetryDeposit
	default:
		writeJSONError(w, http.StatusNotFound, errors.New("unknown deposit action"))
		return
	}
	if err := cmd(hash); err != nil {
		a.logger.Info("deposit command refused",
			slog.String("session", chi.URLParam(r, "id")),
			slog.String("deposit", hash),
			slog.String("action", chi.URLParam(r, "action")),
			slog.Any("error", err))
		writeJSONError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.Snapshot().Transactions[hash])
}
