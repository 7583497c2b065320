package audit

import (
	"strings"
	"testing"

	"github.com/basket/swarmctl/internal/swarm"
)

const testSecret = "unit-test-signing-secret"

func signChain(t *testing.T, secret string, n int) []swarm.SignedAuditEntry {
	t.Helper()
	entries := make([]swarm.SignedAuditEntry, 0, n)
	prev := ""
	for i := 0; i < n; i++ {
		entry, err := Sign(swarm.AuditEntry{
			EventType: "operator_reroute",
			Actor:     "ops:alice",
			Payload:   map[string]any{"taskId": "task-1", "index": i},
			At:        1700000000000 + int64(i),
		}, SignOptions{Secret: secret, PreviousHash: prev})
		if err != nil {
			t.Fatalf("sign entry %d: %v", i, err)
		}
		entries = append(entries, entry)
		prev = entry.Digest
	}
	return entries
}

func TestSign_RequiresSecret(t *testing.T) {
	_, err := Sign(swarm.AuditEntry{EventType: "operator_drain"}, SignOptions{})
	if err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestSign_DeterministicDigest(t *testing.T) {
	entry := swarm.AuditEntry{
		EventType: "operator_override",
		Actor:     "ops:bob",
		Payload:   map[string]any{"taskId": "task-9", "decision": "approved"},
		At:        1700000000000,
	}
	a, err := Sign(entry, SignOptions{Secret: testSecret, PreviousHash: "abc"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	b, err := Sign(entry, SignOptions{Secret: testSecret, PreviousHash: "abc"})
	if err != nil {
		t.Fatalf("sign again: %v", err)
	}
	if a.Digest != b.Digest || a.Signature != b.Signature {
		t.Fatalf("identical input produced different digests: %q vs %q", a.Digest, b.Digest)
	}
}

func TestSign_RedactsPayloadSecrets(t *testing.T) {
	entry, err := Sign(swarm.AuditEntry{
		EventType: "operator_drain",
		Actor:     "ops:carol",
		Payload:   map[string]any{"reason": "api_key=sk_live_abcdefghijklmnop1234 leaked"},
	}, SignOptions{Secret: testSecret})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	reason, _ := entry.Payload["reason"].(string)
	if strings.Contains(reason, "sk_live_abcdefghijklmnop1234") {
		t.Fatalf("secret survived into signed payload: %q", reason)
	}
}

func TestVerifyChain_ValidChain(t *testing.T) {
	entries := signChain(t, testSecret, 5)
	report := VerifyChain(entries, testSecret)
	if !report.OK {
		t.Fatalf("valid chain rejected: index=%d reason=%s detail=%s", report.FailedIndex, report.Reason, report.Detail)
	}
	if report.Entries != 5 || report.FailedIndex != -1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestVerifyChain_EmptyChainOK(t *testing.T) {
	report := VerifyChain(nil, testSecret)
	if !report.OK || report.Entries != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestVerifyChain_WrongSecret(t *testing.T) {
	entries := signChain(t, testSecret, 3)
	report := VerifyChain(entries, "some-other-secret")
	if report.OK {
		t.Fatal("chain verified under wrong secret")
	}
	if report.FailedIndex != 0 {
		t.Fatalf("FailedIndex = %d, want 0", report.FailedIndex)
	}
	if report.Reason != ReasonBadSig {
		t.Fatalf("reason = %q, want %q", report.Reason, ReasonBadSig)
	}
}

func TestVerifyChain_EmptySecret(t *testing.T) {
	entries := signChain(t, testSecret, 2)
	report := VerifyChain(entries, "")
	if report.OK || report.Reason != ReasonEmptySecret {
		t.Fatalf("report = %+v, want %s", report, ReasonEmptySecret)
	}
}

func TestVerifyChain_MutatedPayloadFailsAtEntry(t *testing.T) {
	entries := signChain(t, testSecret, 4)
	entries[2].Payload["taskId"] = "tampered"

	report := VerifyChain(entries, testSecret)
	if report.OK {
		t.Fatal("tampered chain verified")
	}
	if report.FailedIndex > 2 {
		t.Fatalf("FailedIndex = %d, want at or before 2", report.FailedIndex)
	}
	if report.Reason != ReasonBadDigest {
		t.Fatalf("reason = %q, want %q", report.Reason, ReasonBadDigest)
	}
}

func TestVerifyChain_RelinkedEntryBreaksChain(t *testing.T) {
	entries := signChain(t, testSecret, 4)

	// Re-sign entry 2 with a forged previousHash. Its own digest and
	// signature are self-consistent, but the link to entry 1 is gone.
	forged, err := Sign(swarm.AuditEntry{
		EventType: entries[2].EventType,
		Actor:     entries[2].Actor,
		Payload:   entries[2].Payload,
		At:        entries[2].At,
	}, SignOptions{Secret: testSecret, PreviousHash: "0000"})
	if err != nil {
		t.Fatalf("re-sign: %v", err)
	}
	entries[2] = forged

	report := VerifyChain(entries, testSecret)
	if report.OK {
		t.Fatal("relinked chain verified")
	}
	if report.FailedIndex != 2 {
		t.Fatalf("FailedIndex = %d, want 2", report.FailedIndex)
	}
	if report.Reason != ReasonBrokenChain {
		t.Fatalf("reason = %q, want %q", report.Reason, ReasonBrokenChain)
	}
}

func TestVerify_SingleEntryRoundTrip(t *testing.T) {
	entry, err := Sign(swarm.AuditEntry{
		EventType: "operator_replay",
		Actor:     "ops:dave",
		Payload:   map[string]any{"taskId": "task-3"},
	}, SignOptions{Secret: testSecret, KeyID: "ops-2026"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if entry.KeyID != "ops-2026" {
		t.Fatalf("KeyID = %q, want ops-2026", entry.KeyID)
	}
	if err := Verify(entry, VerifyOptions{Secret: testSecret}); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
