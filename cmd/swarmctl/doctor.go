package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/basket/swarmctl/internal/config"
	"github.com/basket/swarmctl/internal/doctor"
)

func runDoctorCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print the diagnosis as JSON")
	if err := fs.Parse(args); err != nil {
		return exitErr
	}
	if fs.NArg() != 0 {
		return usage("usage: swarmctl doctor [--json]")
	}

	cfg, err := config.Load()
	if err != nil {
		// Continue anyway so the report shows why.
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
	}

	diag := doctor.Run(ctx, &cfg, Version)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			return fail("doctor", err)
		}
		if diag.Failed() {
			return exitErr
		}
		return exitOK
	}

	fmt.Println(header(fmt.Sprintf("swarm doctor (%s)", diag.Timestamp.Format(time.RFC3339))))
	fmt.Println(dim(fmt.Sprintf("system %s/%s %s", diag.System.OS, diag.System.Arch, diag.System.Go)))

	for _, res := range diag.Results {
		label := render(okStyle, res.Status)
		switch res.Status {
		case "FAIL":
			label = render(errStyle, res.Status)
		case "WARN":
			label = render(warnStyle, res.Status)
		case "SKIP":
			label = dim(res.Status)
		}
		fmt.Printf("%-6s %-14s %s\n", label, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Println(dim("       " + res.Detail))
		}
	}

	if diag.Failed() {
		return exitErr
	}
	return exitOK
}
