package shared

import "testing"

func TestScanForLeaksFindsSecrets(t *testing.T) {
	text := `deploy done, api_key=sk_live_abcdef1234567890 and Bearer 0123456789abcdef0123`
	warnings := ScanForLeaks(text)
	if len(warnings) != 2 {
		t.Fatalf("warnings = %d, want 2: %+v", len(warnings), warnings)
	}
	for _, w := range warnings {
		if len(w.Sample) > 20 {
			t.Fatalf("sample not truncated: %q", w.Sample)
		}
	}
}

func TestScanForLeaksCleanText(t *testing.T) {
	if warnings := ScanForLeaks("rotated 3 certificates, all hosts healthy"); warnings != nil {
		t.Fatalf("warnings = %+v, want none", warnings)
	}
}

func TestScanForLeaksEmpty(t *testing.T) {
	if warnings := ScanForLeaks(""); warnings != nil {
		t.Fatalf("warnings = %+v, want none", warnings)
	}
}
