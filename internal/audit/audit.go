// Package audit signs and verifies the hash-chained operator audit log.
//
// Every privileged operator mutation (reroute, drain, override) appends
// exactly one signed entry. Entries form a singly linked chain: each
// entry's previousHash must equal the prior entry's digest, and both the
// digest and the keyed signature cover previousHash, so a retroactive
// edit anywhere breaks every later link. Forging a valid continuation
// requires the shared secret (HMAC-SHA256), not just the hash function.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/basket/swarmctl/internal/shared"
	"github.com/basket/swarmctl/internal/swarm"
)

// Verification failure reasons. Closed set; verifiers report exactly one.
const (
	ReasonEmptySecret = "empty_secret"
	ReasonBadDigest   = "bad_digest"
	ReasonBadSig      = "bad_signature"
	ReasonBrokenChain = "broken_chain"
)

var errEmptySecret = errors.New("audit: signing secret must be non-empty")

// SignOptions configures Sign.
type SignOptions struct {
	Secret       string
	KeyID        string
	PreviousHash string // digest of the current chain tail; empty for the first entry
}

// canonicalEntry is the exact byte layout the digest covers. Field order
// is fixed by the struct; map payloads marshal with sorted keys, so the
// canonical bytes are deterministic for identical content.
type canonicalEntry struct {
	EventType    string         `json:"eventType"`
	Actor        string         `json:"actor"`
	Payload      map[string]any `json:"payload,omitempty"`
	KeyID        string         `json:"keyId"`
	PreviousHash string         `json:"previousHash,omitempty"`
	At           int64          `json:"at"`
}

func computeDigest(e swarm.SignedAuditEntry) (string, error) {
	canonical, err := json.Marshal(canonicalEntry{
		EventType:    e.EventType,
		Actor:        e.Actor,
		Payload:      e.Payload,
		KeyID:        e.KeyID,
		PreviousHash: e.PreviousHash,
		At:           e.At,
	})
	if err != nil {
		return "", fmt.Errorf("marshal canonical entry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func computeSignature(secret, digest string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(digest))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign binds entry into the chain after the entry whose digest is
// opts.PreviousHash. The actor and string payload values are redacted
// before signing so secrets never enter the persisted chain.
func Sign(entry swarm.AuditEntry, opts SignOptions) (swarm.SignedAuditEntry, error) {
	if opts.Secret == "" {
		return swarm.SignedAuditEntry{}, errEmptySecret
	}
	if entry.EventType == "" {
		return swarm.SignedAuditEntry{}, errors.New("audit: eventType must be non-empty")
	}
	at := entry.At
	if at == 0 {
		at = swarm.NowMs()
	}
	keyID := opts.KeyID
	if keyID == "" {
		keyID = "default"
	}

	payload := entry.Payload
	if payload != nil {
		redacted := make(map[string]any, len(payload))
		for k, v := range payload {
			if s, ok := v.(string); ok {
				redacted[k] = shared.Redact(s)
			} else {
				redacted[k] = v
			}
		}
		payload = redacted
	}

	signed := swarm.SignedAuditEntry{
		EventType:    entry.EventType,
		Actor:        shared.Redact(entry.Actor),
		Payload:      payload,
		KeyID:        keyID,
		PreviousHash: opts.PreviousHash,
		At:           at,
	}
	digest, err := computeDigest(signed)
	if err != nil {
		return swarm.SignedAuditEntry{}, err
	}
	signed.Digest = digest
	signed.Signature = computeSignature(opts.Secret, digest)
	return signed, nil
}

// VerifyOptions configures Verify for a single entry.
type VerifyOptions struct {
	Secret               string
	ExpectedPreviousHash string
}

// Verify checks one entry's digest, signature, and chain linkage.
// The returned error message begins with one of the Reason constants.
func Verify(entry swarm.SignedAuditEntry, opts VerifyOptions) error {
	if opts.Secret == "" {
		return fmt.Errorf("%s: verification secret must be non-empty", ReasonEmptySecret)
	}
	if entry.PreviousHash != opts.ExpectedPreviousHash {
		return fmt.Errorf("%s: previousHash %q does not match prior digest %q",
			ReasonBrokenChain, entry.PreviousHash, opts.ExpectedPreviousHash)
	}
	digest, err := computeDigest(entry)
	if err != nil {
		return fmt.Errorf("%s: %v", ReasonBadDigest, err)
	}
	if digest != entry.Digest {
		return fmt.Errorf("%s: recomputed digest does not match stored digest", ReasonBadDigest)
	}
	want := computeSignature(opts.Secret, digest)
	if !hmac.Equal([]byte(want), []byte(entry.Signature)) {
		return fmt.Errorf("%s: signature does not verify under the supplied secret", ReasonBadSig)
	}
	return nil
}

// Report is the outcome of a full chain walk.
type Report struct {
	OK          bool
	Entries     int
	FailedIndex int    // index of the first invalid entry; -1 when OK
	Reason      string // one of the Reason constants; "" when OK
	Detail      string
}

// VerifyChain walks the log in order, recomputing each entry's digest
// and signature and checking its previousHash against the prior digest.
// It stops at the first invalid entry.
func VerifyChain(entries []swarm.SignedAuditEntry, secret string) Report {
	report := Report{OK: true, Entries: len(entries), FailedIndex: -1}
	expectedPrev := ""
	for i, entry := range entries {
		if err := Verify(entry, VerifyOptions{Secret: secret, ExpectedPreviousHash: expectedPrev}); err != nil {
			report.OK = false
			report.FailedIndex = i
			report.Reason = reasonOf(err)
			report.Detail = err.Error()
			return report
		}
		expectedPrev = entry.Digest
	}
	return report
}

func reasonOf(err error) string {
	msg := err.Error()
	for _, reason := range []string{ReasonEmptySecret, ReasonBadDigest, ReasonBadSig, ReasonBrokenChain} {
		if len(msg) >= len(reason) && msg[:len(reason)] == reason {
			return reason
		}
	}
	return ReasonBadDigest
}
