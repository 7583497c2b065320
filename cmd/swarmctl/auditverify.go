package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/basket/swarmctl/internal/audit"
	"github.com/basket/swarmctl/internal/persistence"
)

func runAuditVerifyCommand(_ context.Context, args []string) int {
	fs := flag.NewFlagSet("audit-verify", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	secret := secretFlag(fs)
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return exitErr
	}
	if fs.NArg() != 0 {
		return usage("usage: swarmctl audit-verify [--audit <path>] [--secret <value>]")
	}

	key := resolveSecret(*secret)
	if key == "" {
		return fail("audit-verify", fmt.Errorf("no secret; set --secret or SWARM_AUDIT_SECRET"))
	}

	entries, err := persistence.LoadAuditEntries(sf.audit)
	if err != nil {
		return fail("audit-verify", err)
	}
	report := audit.VerifyChain(entries, key)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fail("audit-verify", err)
		}
	} else if report.OK {
		fmt.Printf("%s %d entries verified\n", render(okStyle, "chain ok:"), report.Entries)
	} else {
		fmt.Printf("%s entry %d: %s\n", render(errStyle, "chain INVALID at"), report.FailedIndex, report.Reason)
		if report.Detail != "" {
			fmt.Println(dim("  " + report.Detail))
		}
	}

	if !report.OK {
		return exitChainInvalid
	}
	return exitOK
}
