// Package doctor runs environment diagnostics for the swarm control
// plane: config, stores, audit chain, and daemon reachability.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/basket/swarmctl/internal/audit"
	"github.com/basket/swarmctl/internal/config"
	"github.com/basket/swarmctl/internal/persistence"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check ended in FAIL.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return true
		}
	}
	return false
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkSecret,
		checkPermissions,
		checkTaskJournal,
		checkAuditChain,
		checkArchive,
		checkDaemon,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	return CheckResult{
		Name:    "Config",
		Status:  "PASS",
		Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir),
		Detail:  "fingerprint=" + cfg.Fingerprint(),
	}
}

func checkSecret(_ context.Context, cfg *config.Config) CheckResult {
	if cfg != nil && cfg.AuditSecret != "" {
		return CheckResult{Name: "Audit Secret", Status: "PASS", Message: "SWARM_AUDIT_SECRET is set"}
	}
	return CheckResult{
		Name:    "Audit Secret",
		Status:  "WARN",
		Message: "SWARM_AUDIT_SECRET not set",
		Detail:  "Mutating commands will refuse to run and daemon writes go unsigned",
	}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}
	testFile := fmt.Sprintf("%s/.write_test", cfg.HomeDir)
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkTaskJournal(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Task Journal", Status: "SKIP", Message: "Config missing"}
	}
	if _, err := os.Stat(cfg.TaskStorePath); os.IsNotExist(err) {
		return CheckResult{Name: "Task Journal", Status: "PASS", Message: "No journal yet (fresh install)"}
	}
	records, err := persistence.LoadRecords(cfg.TaskStorePath)
	if err != nil {
		return CheckResult{Name: "Task Journal", Status: "FAIL", Message: fmt.Sprintf("Journal unreadable: %v", err)}
	}
	open := 0
	for _, rec := range records {
		if !rec.Status.IsTerminal() {
			open++
		}
	}
	return CheckResult{
		Name:    "Task Journal",
		Status:  "PASS",
		Message: fmt.Sprintf("%d tasks loaded, %d open", len(records), open),
	}
}

func checkAuditChain(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Audit Chain", Status: "SKIP", Message: "Config missing"}
	}
	if _, err := os.Stat(cfg.AuditStorePath); os.IsNotExist(err) {
		return CheckResult{Name: "Audit Chain", Status: "PASS", Message: "No audit log yet (fresh install)"}
	}
	entries, err := persistence.LoadAuditEntries(cfg.AuditStorePath)
	if err != nil {
		return CheckResult{Name: "Audit Chain", Status: "FAIL", Message: fmt.Sprintf("Audit log unreadable: %v", err)}
	}
	if cfg.AuditSecret == "" {
		return CheckResult{
			Name:    "Audit Chain",
			Status:  "SKIP",
			Message: fmt.Sprintf("%d entries present, verification skipped without secret", len(entries)),
		}
	}
	report := audit.VerifyChain(entries, cfg.AuditSecret)
	if !report.OK {
		return CheckResult{
			Name:    "Audit Chain",
			Status:  "FAIL",
			Message: fmt.Sprintf("Chain invalid at entry %d: %s", report.FailedIndex, report.Reason),
			Detail:  report.Detail,
		}
	}
	return CheckResult{Name: "Audit Chain", Status: "PASS", Message: fmt.Sprintf("%d entries verified", report.Entries)}
}

func checkArchive(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Archive", Status: "SKIP", Message: "Config missing"}
	}
	arch, err := persistence.OpenArchive(cfg.ArchivePath)
	if err != nil {
		return CheckResult{Name: "Archive", Status: "FAIL", Message: fmt.Sprintf("sqlite open failed: %v", err)}
	}
	defer arch.Close()
	return CheckResult{Name: "Archive", Status: "PASS", Message: "sqlite archive opens and migrates"}
}

func checkDaemon(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Daemon", Status: "SKIP", Message: "Config missing"}
	}

	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", cfg.BindAddr)
	if err != nil {
		return CheckResult{
			Name:    "Daemon",
			Status:  "WARN",
			Message: fmt.Sprintf("Not reachable at %s", cfg.BindAddr),
			Detail:  "Start it with: swarmd",
		}
	}
	conn.Close()

	req, err := http.NewRequestWithContext(dialCtx, http.MethodGet, "http://"+cfg.BindAddr+"/healthz", nil)
	if err != nil {
		return CheckResult{Name: "Daemon", Status: "FAIL", Message: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{Name: "Daemon", Status: "WARN", Message: fmt.Sprintf("healthz unreachable: %v", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return CheckResult{Name: "Daemon", Status: "FAIL", Message: fmt.Sprintf("healthz returned %d", resp.StatusCode)}
	}
	return CheckResult{Name: "Daemon", Status: "PASS", Message: fmt.Sprintf("Healthy at %s", cfg.BindAddr)}
}
