package session

import (
	"errors"
	"testing"
	"time"
)

func TestSessionIDBucketsByDay(t *testing.T) {
	morning := time.Date(2021, 4, 19, 1, 0, 0, 0, time.UTC)
	evening := time.Date(2021, 4, 19, 23, 0, 0, 0, time.UTC)
	next := time.Date(2021, 4, 20, 0, 0, 1, 0, time.UTC)

	id := SessionID("0xuser", "btc", "Bitcoin", "Ethereum", morning)
	if id != "tx-0xuser-18736-BTC-bitcoin-to-ethereum" {
		t.Fatalf("unexpected id %q", id)
	}
	if SessionID("0xuser", "BTC", "bitcoin", "ethereum", evening) != id {
		t.Fatalf("same day must map to the same session")
	}
	if SessionID("0xuser", "BTC", "bitcoin", "ethereum", next) == id {
		t.Fatalf("next day must map to a new session")
	}
	if SessionID("0xuser", "BTC", "zcash", "ethereum", morning) == id {
		t.Fatalf("a different source chain must map to a new session")
	}
}

func TestDefaultExpiry(t *testing.T) {
	now := time.Date(2021, 4, 19, 15, 30, 0, 0, time.UTC)
	want := time.Date(2021, 4, 22, 0, 0, 0, 0, time.UTC)
	if got := DefaultExpiry(now); !got.Equal(want) {
		t.Fatalf("expiry = %s, want %s", got, want)
	}
}

func TestDayNonceMatchesPersistedGateways(t *testing.T) {
	nonce, err := DayNonce(testNow)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != testNonce {
		t.Fatalf("nonce = %s, want %s", nonce.Hex(), testNonce.Hex())
	}
}

func TestNewGatewaySessionValidates(t *testing.T) {
	params := CreateParams{Asset: "btc", SourceChain: "Bitcoin", DestChain: "Ethereum", DestAddress: testDest.Hex()}
	s, err := NewGatewaySession(params, testNow)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if s.Asset != "BTC" || s.SourceChain != "bitcoin" || s.DestChain != "ethereum" {
		t.Fatalf("unexpected normalisation %+v", s)
	}
	if s.UserAddress != testDest.Hex() {
		t.Fatalf("user address should default to the destination, got %q", s.UserAddress)
	}
	if s.State != SessionRestoring || s.Transactions == nil {
		t.Fatalf("unexpected initial state %+v", s)
	}
	if !s.ExpiryTime.Equal(DefaultExpiry(testNow)) {
		t.Fatalf("unexpected expiry %s", s.ExpiryTime)
	}

	params.DestAddress = "not-an-address"
	if _, err := NewGatewaySession(params, testNow); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("expected ErrInvalidDestination, got %v", err)
	}
	params.DestAddress = testDest.Hex()
	params.Asset = ""
	if _, err := NewGatewaySession(params, testNow); err == nil {
		t.Fatalf("expected missing asset to fail")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := GatewaySession{ID: "a", Transactions: map[string]GatewayTransaction{"x": {State: DepositSrcSettling}}}
	c := s.Clone()
	c.Transactions["x"] = GatewayTransaction{State: DepositCompleted}
	c.Transactions["y"] = GatewayTransaction{}
	if s.Transactions["x"].State != DepositSrcSettling || len(s.Transactions) != 1 {
		t.Fatalf("clone shares the transaction map")
	}
}

func TestExpired(t *testing.T) {
	s := GatewaySession{ExpiryTime: testNow}
	if !s.Expired(testNow) || s.Expired(testNow.Add(-time.Second)) {
		t.Fatalf("expiry boundary is inclusive")
	}
	if (GatewaySession{}).Expired(testNow) {
		t.Fatalf("zero expiry never expires")
	}
}
