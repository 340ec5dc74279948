package auditledger

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestChainProperties checks that any sequence of appends verifies cleanly and
// that editing any one stored entry is always reported.
func TestChainProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	actions := []Action{ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionLogin, ActionLogout}

	build := func(names []string) (*MemoryLedger, bool) {
		l := New()
		for i, name := range names {
			if name == "" {
				name = "Stay"
			}
			if _, err := l.Append(context.Background(), name, actions[i%len(actions)], name, "", Metadata{"n": name}); err != nil {
				return nil, false
			}
		}
		return l, true
	}

	properties.Property("untouched chains verify", prop.ForAll(
		func(names []string) bool {
			l, ok := build(names)
			if !ok {
				return false
			}
			report, err := l.Verify(context.Background())
			return err == nil && report.Valid && report.Entries == len(names)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("editing any entry is detected", prop.ForAll(
		func(names []string, pick int) bool {
			l, ok := build(names)
			if !ok {
				return false
			}
			target := l.entries[pick%len(l.entries)]
			target.EntityName += "!"

			report, err := l.Verify(context.Background())
			if err != nil || report.Valid {
				return false
			}
			for _, id := range report.OffendingIDs {
				if id == target.ID {
					return true
				}
			}
			return false
		},
		gen.SliceOfN(8, gen.AlphaString()),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
