// Package session runs the lock/mint lifecycle: one Session actor per transfer
// intent, owning one Deposit actor per transaction observed at its gateway address.
package session

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"mintgate/chain"
	mcrypto "mintgate/crypto"
)

var (
	ErrSessionExpired     = errors.New("session: gateway session expired")
	ErrSessionStopped     = errors.New("session: session is not running")
	ErrUnknownDeposit     = errors.New("session: unknown deposit")
	ErrInvalidTransition  = errors.New("session: invalid state transition")
	ErrDepositBusy        = errors.New("session: deposit inbox full")
	ErrNotFound           = errors.New("session: not found")
	ErrUnknownChain       = errors.New("session: unknown chain")
	ErrInvalidDestination = errors.New("session: invalid destination address")
	ErrInvalidParams      = errors.New("session: invalid parameters")
)

// SessionState is the lifecycle state of a gateway session.
type SessionState string

const (
	SessionRestoring           SessionState = "restoring"
	SessionCreating            SessionState = "creating"
	SessionSrcInitializeError  SessionState = "srcInitializeError"
	SessionListening           SessionState = "listening"
	SessionRequestingSignature SessionState = "requestingSignature"
	SessionCompleted           SessionState = "completed"
)

// DepositState is the lifecycle state of a single deposit.
type DepositState string

const (
	DepositRestoring       DepositState = "restoring"
	DepositErrorRestoring  DepositState = "errorRestoring"
	DepositSrcSettling     DepositState = "srcSettling"
	DepositSrcConfirmed    DepositState = "srcConfirmed"
	DepositErrorAccepting  DepositState = "errorAccepting"
	DepositAccepted        DepositState = "accepted"
	DepositClaiming        DepositState = "claiming"
	DepositErrorSubmitting DepositState = "errorSubmitting"
	DepositDestInitiated   DepositState = "destInitiated"
	DepositCompleted       DepositState = "completed"
	DepositRejected        DepositState = "rejected"
)

// Terminal reports whether the deposit will not change state again.
func (s DepositState) Terminal() bool {
	return s == DepositCompleted || s == DepositRejected
}

// GatewayTransaction is the persisted record of one deposit.
type GatewayTransaction struct {
	SourceTxHash       string          `json:"sourceTxHash"`
	SourceTxAmount     *big.Int        `json:"sourceTxAmount"`
	SourceTxConfs      int             `json:"sourceTxConfs"`
	SourceTxConfTarget int             `json:"sourceTxConfTarget"`
	RawSourceTx        chain.DepositTx `json:"rawSourceTx"`
	DetectedAt         time.Time       `json:"detectedAt"`

	NetworkTxHash string        `json:"networkTxHash,omitempty"`
	NHash         common.Hash   `json:"nHash"`
	SigHash       common.Hash   `json:"sigHash"`
	Amount        *big.Int      `json:"amount,omitempty"`
	Signature     hexutil.Bytes `json:"signature,omitempty"`

	DestTxHash  string    `json:"destTxHash,omitempty"`
	CompletedAt time.Time `json:"completedAt"`

	State DepositState `json:"state"`
	Error string       `json:"error,omitempty"`
}

// Signed reports whether a validated network signature has been stored.
func (t GatewayTransaction) Signed() bool {
	return len(t.Signature) > 0
}

// GatewaySession is the persisted record of a transfer intent.
type GatewaySession struct {
	ID              string         `json:"id"`
	Network         string         `json:"network,omitempty"`
	Asset           string         `json:"sourceAsset"`
	SourceChain     string         `json:"sourceChain"`
	DestChain       string         `json:"destChain"`
	DestAddress     string         `json:"destAddress"`
	UserAddress     string         `json:"userAddress"`
	Nonce           common.Hash    `json:"nonce"`
	PHash           common.Hash    `json:"pHash"`
	Token           common.Address `json:"token"`
	GHash           common.Hash    `json:"gHash"`
	ShardKey        hexutil.Bytes  `json:"shardKey,omitempty"`
	SuggestedAmount *big.Int       `json:"suggestedAmount,omitempty"`
	ExpiryTime      time.Time      `json:"expiryTime"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	GatewayAddress  string         `json:"gatewayAddress,omitempty"`

	Transactions map[string]GatewayTransaction `json:"transactions"`

	State SessionState `json:"state"`
	Error string       `json:"error,omitempty"`
}

// Clone returns a copy whose transaction map can be mutated independently.
func (s GatewaySession) Clone() GatewaySession {
	out := s
	out.Transactions = make(map[string]GatewayTransaction, len(s.Transactions))
	for k, v := range s.Transactions {
		out.Transactions[k] = v
	}
	if s.ShardKey != nil {
		out.ShardKey = append(hexutil.Bytes(nil), s.ShardKey...)
	}
	return out
}

// Expired reports whether the session's gateway is no longer valid at now. A zero
// expiry never expires.
func (s GatewaySession) Expired(now time.Time) bool {
	return !s.ExpiryTime.IsZero() && !now.Before(s.ExpiryTime)
}

// Created reports whether a gateway address has been assigned.
func (s GatewaySession) Created() bool {
	return s.GatewayAddress != ""
}

// CreateParams describe a new transfer intent.
type CreateParams struct {
	Network         string
	Asset           string
	SourceChain     string
	DestChain       string
	DestAddress     string
	UserAddress     string
	Nonce           *common.Hash
	PHash           common.Hash
	SuggestedAmount *big.Int
	ExpiryTime      time.Time
}

const day = 24 * time.Hour

// SessionDay is the number of whole days since the Unix epoch.
func SessionDay(now time.Time) int64 {
	return now.UTC().Unix() / int64(day/time.Second)
}

// SessionID names a transfer intent so that repeated requests on the same day map
// to the same session.
func SessionID(userAddress, asset, srcChain, destChain string, now time.Time) string {
	return fmt.Sprintf("tx-%s-%d-%s-%s-to-%s", userAddress, SessionDay(now), strings.ToUpper(asset),
		strings.ToLower(srcChain), strings.ToLower(destChain))
}

// DefaultExpiry is the start of the third day after the session day.
func DefaultExpiry(now time.Time) time.Time {
	return time.Unix((SessionDay(now)+3)*int64(day/time.Second), 0).UTC()
}

// DayNonce derives the nonce of a session created on now's day: the day number in
// hex, left padded with spaces to 32 bytes. Gateways created without an explicit
// nonce therefore rotate daily.
func DayNonce(now time.Time) (common.Hash, error) {
	text := fmt.Sprintf("%32x", SessionDay(now))
	if len(text) != common.HashLength {
		return common.Hash{}, fmt.Errorf("session: day %d does not fit a nonce", SessionDay(now))
	}
	return common.BytesToHash([]byte(text)), nil
}

// RandomNonce ignores now and returns 32 random bytes, so every gateway opened
// without an explicit nonce is fresh.
func RandomNonce(time.Time) (common.Hash, error) {
	return mcrypto.RandomNonce()
}

// NewGatewaySession validates params and returns a session in the restoring state.
func NewGatewaySession(p CreateParams, now time.Time) (GatewaySession, error) {
	asset := strings.ToUpper(strings.TrimSpace(p.Asset))
	if asset == "" {
		return GatewaySession{}, fmt.Errorf("%w: asset is required", ErrInvalidParams)
	}
	if strings.TrimSpace(p.SourceChain) == "" || strings.TrimSpace(p.DestChain) == "" {
		return GatewaySession{}, fmt.Errorf("%w: source and destination chains are required", ErrInvalidParams)
	}
	if !common.IsHexAddress(p.DestAddress) {
		return GatewaySession{}, fmt.Errorf("%w: %q", ErrInvalidDestination, p.DestAddress)
	}
	user := strings.TrimSpace(p.UserAddress)
	if user == "" {
		user = p.DestAddress
	}
	expiry := p.ExpiryTime
	if expiry.IsZero() {
		expiry = DefaultExpiry(now)
	}
	s := GatewaySession{
		ID:              SessionID(user, asset, p.SourceChain, p.DestChain, now),
		Network:         p.Network,
		Asset:           asset,
		SourceChain:     strings.ToLower(p.SourceChain),
		DestChain:       strings.ToLower(p.DestChain),
		DestAddress:     p.DestAddress,
		UserAddress:     user,
		PHash:           p.PHash,
		SuggestedAmount: p.SuggestedAmount,
		ExpiryTime:      expiry,
		CreatedAt:       now,
		UpdatedAt:       now,
		Transactions:    make(map[string]GatewayTransaction),
		State:           SessionRestoring,
	}
	if p.Nonce != nil {
		s.Nonce = *p.Nonce
	}
	return s, nil
}
