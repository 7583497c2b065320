package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/basket/swarmctl/internal/audit"
	"github.com/basket/swarmctl/internal/config"
	"github.com/basket/swarmctl/internal/persistence"
	"github.com/basket/swarmctl/internal/swarm"
)

// Exit codes: 0 success, 1 usage or runtime error, 2 audit chain
// invalid (audit-verify only).
const (
	exitOK           = 0
	exitErr          = 1
	exitChainInvalid = 2
)

// storeFlags wires the --store and --audit path flags every command
// takes, defaulting to the paths under $SWARM_HOME.
type storeFlags struct {
	store string
	audit string
}

func addStoreFlags(fs *flag.FlagSet) *storeFlags {
	cfg, err := config.Load()
	defaultStore := ""
	defaultAudit := ""
	if err == nil {
		defaultStore = cfg.TaskStorePath
		defaultAudit = cfg.AuditStorePath
	}
	sf := &storeFlags{}
	fs.StringVar(&sf.store, "store", defaultStore, "path to the task journal")
	fs.StringVar(&sf.audit, "audit", defaultAudit, "path to the audit log")
	return sf
}

// secretFlag resolves the signing secret for mutating commands:
// --secret wins, then SWARM_AUDIT_SECRET.
func secretFlag(fs *flag.FlagSet) *string {
	return fs.String("secret", "", "audit signing secret (default: SWARM_AUDIT_SECRET)")
}

func resolveSecret(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("SWARM_AUDIT_SECRET")
}

func loadRecords(path string) (map[string]swarm.TaskRecord, error) {
	if path == "" {
		return nil, fmt.Errorf("task journal path is empty; set --store or SWARM_HOME")
	}
	return persistence.LoadRecords(path)
}

// saveRecords rewrites the journal from the mutated record set.
func saveRecords(path string, records map[string]swarm.TaskRecord) error {
	store, err := persistence.OpenTaskStore(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Compact(records)
}

// appendAudit signs one entry against the current chain tail and
// appends it. Mutating commands call this after the journal write; a
// mutation without its audit entry is reported as a failure.
func appendAudit(path, secret, eventType, actor string, payload map[string]any) error {
	if path == "" {
		return fmt.Errorf("audit log path is empty; set --audit or SWARM_HOME")
	}
	store, err := persistence.OpenAuditStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	entry, err := audit.Sign(swarm.AuditEntry{
		EventType: eventType,
		Actor:     actor,
		Payload:   payload,
	}, audit.SignOptions{
		Secret:       secret,
		KeyID:        os.Getenv("SWARM_AUDIT_KEY_ID"),
		PreviousHash: store.TailDigest(),
	})
	if err != nil {
		return err
	}
	return store.Append(entry)
}

func fail(component string, err error) int {
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", component, err)
	return exitErr
}

func usage(msg string) int {
	fmt.Fprintln(os.Stderr, msg)
	return exitErr
}
