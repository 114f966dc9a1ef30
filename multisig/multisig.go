// Package multisig holds the authorization rules of the coordinator:
// which threshold a transaction needs, which signatures count and when a
// request is signed well enough to be forwarded.
package multisig

import (
	"encoding/base64"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusReady, StatusFailed, StatusExpired},
	StatusReady:   {StatusSubmitted, StatusFailed},
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReady, StatusSubmitted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// SignatureRequest is a transaction waiting for co-signatures
type SignatureRequest struct {
	ID string
	// Hash is the hex encoded sha256 of URI
	Hash string
	// URI is the SEP-7 transaction request the request was created from
	URI               string
	NetworkPassphrase string
	// TxXDR is the base64 transaction envelope
	TxXDR string
	// Callback is where the signed transaction is posted instead of horizon, if set
	Callback  string
	Status    Status
	Error     string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SourceAccount is an account whose authorization the transaction needs,
// with the threshold that was required when the request was created.
type SourceAccount struct {
	RequestID string
	AccountID string
	Threshold uint8
}

// Signer is a key of a source account as it was when the request was created.
// Signers are never reloaded from the network.
type Signer struct {
	RequestID       string
	SourceAccountID string
	AccountID       string
	Weight          int32
}

// Signature is a decorated signature collected for a request
type Signature struct {
	RequestID string
	// Signer is the public key that produced the signature
	Signer string
	// Decorated is the XDR encoding of the decorated signature (hint + signature)
	Decorated []byte
	CreatedAt time.Time
}

// Base64 returns the wire encoding of the decorated signature
func (s Signature) Base64() string {
	return base64.StdEncoding.EncodeToString(s.Decorated)
}
