package integration_test

import (
	"sort"
	"strings"
	"testing"

	"threatfusion/internal/audit"
)

// requireAuditEvents fails unless every event type in want was recorded at
// least once in the audit database at dbPath.
func requireAuditEvents(t *testing.T, dbPath string, want []string) {
	t.Helper()
	events, err := audit.NewLogger(dbPath).Events("")
	if err != nil {
		t.Fatalf("read audit events from %s: %v", dbPath, err)
	}
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		seen[ev.Type] = true
	}
	for _, eventType := range want {
		if !seen[eventType] {
			types := make([]string, 0, len(seen))
			for k := range seen {
				types = append(types, k)
			}
			sort.Strings(types)
			t.Fatalf("missing audit event %s in %s (have: %s)", eventType, dbPath, strings.Join(types, ", "))
		}
	}
}
