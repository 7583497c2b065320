package swarm

// AuditEntry is the unsigned content of one audit log line: what
// happened, who did it, and an open payload describing the mutation.
type AuditEntry struct {
	EventType string         `json:"eventType"`
	Actor     string         `json:"actor"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        int64          `json:"at"`
}

// SignedAuditEntry is an AuditEntry bound into the hash chain. Digest
// covers the entry content plus PreviousHash; Signature is a keyed MAC
// over the digest, so a valid continuation requires the shared secret.
type SignedAuditEntry struct {
	EventType    string         `json:"eventType"`
	Actor        string         `json:"actor"`
	Payload      map[string]any `json:"payload,omitempty"`
	KeyID        string         `json:"keyId"`
	PreviousHash string         `json:"previousHash,omitempty"`
	Digest       string         `json:"digest"`
	Signature    string         `json:"signature"`
	At           int64          `json:"at"`
}

// HandshakeResult is the outcome of one handshake attempt sequence.
// Not persisted by the engine; callers own it.
type HandshakeResult struct {
	Accepted            bool     `json:"accepted"`
	Protocol            string   `json:"protocol,omitempty"`
	Reason              string   `json:"reason,omitempty"`
	MissingCapabilities []string `json:"missingCapabilities,omitempty"`
	PeerCapabilities    []string `json:"peerCapabilities,omitempty"`
	HandshakeID         string   `json:"handshakeId"`
	Attempts            int      `json:"attempts"`
	LatencyMs           int64    `json:"latencyMs"`
}
