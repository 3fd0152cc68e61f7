// ABOUTME: Tests for audit log store operations
// ABOUTME: Covers Append and List with filtering against SQLite and the mock store

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auditFactories() map[string]func(t *testing.T) AuditLog {
	return map[string]func(t *testing.T) AuditLog{
		"sqlite": func(t *testing.T) AuditLog {
			s, _ := setupTestStore(t)
			return s
		},
		"mock": func(t *testing.T) AuditLog {
			return NewMockStore(newTestDeps(t).protector())
		},
	}
}

func ptr[T any](v T) *T { return &v }

func TestAuditLog_Append(t *testing.T) {
	for name, factory := range auditFactories() {
		t.Run(name, func(t *testing.T) {
			log := factory(t)
			ctx := context.Background()

			entry := &AuditEntry{
				Actor:  "user-1",
				Action: AuditSetCredential,
				UserID: "user-1",
				Detail: map[string]any{"provider": "openai"},
			}
			require.NoError(t, log.AppendAuditLog(ctx, entry))

			// Should have generated ID and timestamp
			assert.NotEmpty(t, entry.ID)
			assert.False(t, entry.Timestamp.IsZero())

			entries, err := log.ListAuditLog(ctx, AuditFilter{})
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, entry.ID, entries[0].ID)
			assert.Equal(t, AuditSetCredential, entries[0].Action)
			assert.Equal(t, "openai", entries[0].Detail["provider"])
		})
	}
}

func TestAuditLog_ListNewestFirst(t *testing.T) {
	for name, factory := range auditFactories() {
		t.Run(name, func(t *testing.T) {
			log := factory(t)
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Second)

			for i, action := range []AuditAction{AuditCreateUser, AuditSetCredential, AuditChangePassword} {
				require.NoError(t, log.AppendAuditLog(ctx, &AuditEntry{
					Actor:     ActorOperator,
					Action:    action,
					UserID:    "user-1",
					Timestamp: base.Add(time.Duration(i) * time.Second),
				}))
			}

			entries, err := log.ListAuditLog(ctx, AuditFilter{})
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, AuditChangePassword, entries[0].Action)
			assert.Equal(t, AuditCreateUser, entries[2].Action)
		})
	}
}

func TestAuditLog_SameSecondKeepsInsertionOrder(t *testing.T) {
	for name, factory := range auditFactories() {
		t.Run(name, func(t *testing.T) {
			log := factory(t)
			ctx := context.Background()
			ts := time.Now().UTC().Truncate(time.Second)

			require.NoError(t, log.AppendAuditLog(ctx, &AuditEntry{Actor: "u", Action: AuditSetCredential, UserID: "u", Timestamp: ts}))
			require.NoError(t, log.AppendAuditLog(ctx, &AuditEntry{Actor: "u", Action: AuditClearCredential, UserID: "u", Timestamp: ts}))

			entries, err := log.ListAuditLog(ctx, AuditFilter{})
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, AuditClearCredential, entries[0].Action)
		})
	}
}

func TestAuditLog_Filters(t *testing.T) {
	for name, factory := range auditFactories() {
		t.Run(name, func(t *testing.T) {
			log := factory(t)
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)

			seed := []AuditEntry{
				{Actor: ActorOperator, Action: AuditCreateUser, UserID: "alice", Timestamp: base},
				{Actor: "alice", Action: AuditSetCredential, UserID: "alice", Timestamp: base.Add(10 * time.Minute)},
				{Actor: ActorOperator, Action: AuditIssueToken, UserID: "bob", Timestamp: base.Add(20 * time.Minute)},
				{Actor: "bob", Action: AuditSetCredential, UserID: "bob", Timestamp: base.Add(30 * time.Minute)},
			}
			for i := range seed {
				require.NoError(t, log.AppendAuditLog(ctx, &seed[i]))
			}

			tests := []struct {
				name   string
				filter AuditFilter
				want   int
			}{
				{"by user", AuditFilter{UserID: ptr("alice")}, 2},
				{"by actor", AuditFilter{Actor: ptr(ActorOperator)}, 2},
				{"by action", AuditFilter{Action: ptr(AuditSetCredential)}, 2},
				{"since", AuditFilter{Since: ptr(base.Add(15 * time.Minute))}, 2},
				{"until", AuditFilter{Until: ptr(base.Add(10 * time.Minute))}, 2},
				{"combined", AuditFilter{UserID: ptr("bob"), Action: ptr(AuditSetCredential)}, 1},
				{"limit", AuditFilter{Limit: 3}, 3},
				{"no match", AuditFilter{UserID: ptr("carol")}, 0},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					entries, err := log.ListAuditLog(ctx, tt.filter)
					require.NoError(t, err)
					assert.NotNil(t, entries)
					assert.Len(t, entries, tt.want)
				})
			}
		})
	}
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 100, normalizeAuditLimit(-5))
	assert.Equal(t, 50, normalizeAuditLimit(50))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
}

func TestParseAuditAction(t *testing.T) {
	for _, a := range ValidAuditActions {
		got, err := ParseAuditAction(string(a))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}

	_, err := ParseAuditAction("approve_principal")
	assert.Error(t, err)
}
