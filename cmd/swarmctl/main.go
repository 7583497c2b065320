// Command swarmctl is the operator CLI for the swarm control plane. It
// reads and mutates the task journal and the signed audit log directly;
// the daemon picks the changes up through the same files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options]

READ COMMANDS:
  status                      Show queue summary by status and target
  queue [options]             List open tasks
                              Options: --approvals, --target <agent>, --limit <n>
  replay <task-id>            Print a task's full event timeline
  tail [options]              Show recent events across all tasks
                              Options: --task <id>, --target <agent>, --stage <stage>, --limit <n>
  audit-verify                Re-verify the audit log hash chain
  doctor [-json]              Run environment diagnostics

OPERATOR COMMANDS (require the audit secret):
  reroute <task-id> <target>  Move an open task to another agent
  drain <target>              Pause or redirect a target's open tasks
                              Options: --redirect <agent>
  override <approve|deny> <task-id>
                              Decide a pending approval

COMMON OPTIONS:
  --store <path>              Task journal path (default: $SWARM_HOME/tasks.jsonl)
  --audit <path>              Audit log path (default: $SWARM_HOME/audit.jsonl)
  --secret <value>            Audit signing secret (default: SWARM_AUDIT_SECRET)
  --actor <name>              Operator identity recorded in history and audit
  --reason <text>             Why; recorded in history and audit

ENVIRONMENT VARIABLES:
  SWARM_HOME                  Data directory (default: ~/.swarmctl)
  SWARM_AUDIT_SECRET          Signing secret for operator commands

EXIT CODES:
  0 success, 1 usage or runtime error, 2 audit chain invalid
`, os.Args[0])
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(exitErr)
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
		os.Exit(exitOK)
	case "version", "-version", "--version":
		fmt.Println(Version)
		os.Exit(exitOK)
	case "status":
		os.Exit(runStatusCommand(ctx, args[1:]))
	case "queue":
		os.Exit(runQueueCommand(ctx, args[1:]))
	case "replay":
		os.Exit(runReplayCommand(ctx, args[1:]))
	case "tail":
		os.Exit(runTailCommand(ctx, args[1:]))
	case "audit-verify":
		os.Exit(runAuditVerifyCommand(ctx, args[1:]))
	case "doctor":
		os.Exit(runDoctorCommand(ctx, args[1:]))
	case "reroute":
		os.Exit(runRerouteCommand(ctx, args[1:]))
	case "drain":
		os.Exit(runDrainCommand(ctx, args[1:]))
	case "override":
		os.Exit(runOverrideCommand(ctx, args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(exitErr)
	}
}
