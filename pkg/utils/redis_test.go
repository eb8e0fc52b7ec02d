package utils

import "testing"

func TestLimiterScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if concurrencyAcquireScript == nil || concurrencyReleaseScript == nil {
		t.Fatalf("expected concurrency scripts to be initialized")
	}
	if dailyLimitScript == nil {
		t.Fatalf("expected daily limit script to be initialized")
	}
}
