package normalizer

import (
	"testing"
	"time"

	"github.com/funneldash/dashcore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var commit = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newNormalizer(t *testing.T, extra ...Rule) *Normalizer {
	t.Helper()
	n, err := New(func() time.Time { return commit.Add(time.Hour) }, extra...)
	require.NoError(t, err)
	return n
}

func TestNormalize_EventTypes(t *testing.T) {
	n := newNormalizer(t)

	tests := []struct {
		name string
		rec  models.ChangeRecord
		want models.EventType
	}{
		{
			name: "session inserted",
			rec:  models.ChangeRecord{Table: "diagnosis_sessions", Operation: models.OpInsert, New: map[string]any{"id": "s1"}},
			want: models.EventSessionStarted,
		},
		{
			name: "session completed",
			rec: models.ChangeRecord{
				Table: "diagnosis_sessions", Operation: models.OpUpdate,
				New: map[string]any{"id": "s1", "status": "completed"},
				Old: map[string]any{"id": "s1", "status": "in_progress"},
			},
			want: models.EventSessionCompleted,
		},
		{
			name: "session abandoned without old image",
			rec: models.ChangeRecord{
				Table: "diagnosis_sessions", Operation: models.OpUpdate,
				New: map[string]any{"id": "s1", "status": "abandoned"},
			},
			want: models.EventSessionAbandoned,
		},
		{
			name: "completed session updated again",
			rec: models.ChangeRecord{
				Table: "diagnosis_sessions", Operation: models.OpUpdate,
				New: map[string]any{"id": "s1", "status": "completed", "score": 80},
				Old: map[string]any{"id": "s1", "status": "completed"},
			},
			want: models.EventDataChanged,
		},
		{
			name: "user registered",
			rec:  models.ChangeRecord{Table: "users", Operation: models.OpInsert, New: map[string]any{"id": "u1"}},
			want: models.EventUserRegistered,
		},
		{
			name: "user became verified",
			rec: models.ChangeRecord{
				Table: "users", Operation: models.OpUpdate,
				New: map[string]any{"id": "u1", "is_verified": true},
				Old: map[string]any{"id": "u1", "is_verified": false},
			},
			want: models.EventUserVerified,
		},
		{
			name: "verification requested",
			rec:  models.ChangeRecord{Table: "verifications", Operation: models.OpInsert, New: map[string]any{"id": "v1"}},
			want: models.EventVerificationRequested,
		},
		{
			name: "verification completed",
			rec: models.ChangeRecord{
				Table: "verifications", Operation: models.OpUpdate,
				New: map[string]any{"id": "v1", "status": "verified"},
			},
			want: models.EventVerificationCompleted,
		},
		{
			name: "error logged",
			rec:  models.ChangeRecord{Table: "error_logs", Operation: models.OpInsert, New: map[string]any{"message": "boom"}},
			want: models.EventSystemError,
		},
		{
			name: "unknown table",
			rec:  models.ChangeRecord{Table: "page_views", Operation: models.OpInsert, New: map[string]any{"id": 1}},
			want: models.EventDataChanged,
		},
		{
			name: "session deleted",
			rec:  models.ChangeRecord{Table: "diagnosis_sessions", Operation: models.OpDelete, Old: map[string]any{"id": "s1"}},
			want: models.EventDataChanged,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, n.Normalize(tc.rec).Type)
		})
	}
}

func TestNormalize_CopiesIdentifiers(t *testing.T) {
	n := newNormalizer(t)

	ev := n.Normalize(models.ChangeRecord{
		Table:      "diagnosis_sessions",
		Operation:  models.OpInsert,
		New:        map[string]any{"id": "s1", "session_id": "sess-9", "userId": "u-3"},
		CommitTime: commit,
	})

	assert.Equal(t, "sess-9", ev.SessionID)
	assert.Equal(t, "u-3", ev.UserID)
	assert.Equal(t, commit, ev.Timestamp)
	assert.Equal(t, "diagnosis_sessions", ev.Data["table"])
	assert.Equal(t, "INSERT", ev.Data["operation"])
	assert.Equal(t, "s1", ev.Data["id"])
	assert.NotContains(t, ev.Data, "truncated")

	deleted := n.Normalize(models.ChangeRecord{
		Table:     "users",
		Operation: models.OpDelete,
		Old:       map[string]any{"id": "u1", "user_id": "u1"},
	})
	assert.Equal(t, "u1", deleted.UserID)
	assert.Empty(t, deleted.SessionID)
	assert.Equal(t, commit.Add(time.Hour), deleted.Timestamp, "missing commit time falls back to now")
}

func TestNormalize_DeterministicIDs(t *testing.T) {
	n := newNormalizer(t)
	rec := models.ChangeRecord{
		Table:      "users",
		Operation:  models.OpInsert,
		New:        map[string]any{"id": 42},
		CommitTime: commit,
	}

	first := n.Normalize(rec)
	again := n.Normalize(rec)
	assert.Equal(t, first.ID, again.ID, "redelivered records keep their ID")

	rec.CommitTime = commit.Add(time.Millisecond)
	assert.NotEqual(t, first.ID, n.Normalize(rec).ID)

	anonymous := models.ChangeRecord{Table: "users", Operation: models.OpInsert, New: map[string]any{"email": "a@b.c"}}
	assert.NotEqual(t, n.Normalize(anonymous).ID, n.Normalize(anonymous).ID)
}

func TestNew_CustomRulesTakePrecedence(t *testing.T) {
	n := newNormalizer(t, Rule{Table: "error_logs", Operation: "insert", Column: "level", Value: "fatal", Type: models.EventConnectionError})

	fatal := models.ChangeRecord{Table: "error_logs", Operation: models.OpInsert, New: map[string]any{"level": "fatal"}}
	plain := models.ChangeRecord{Table: "error_logs", Operation: models.OpInsert, New: map[string]any{"level": "warn"}}

	assert.Equal(t, models.EventConnectionError, n.Classify(fatal))
	assert.Equal(t, models.EventSystemError, n.Classify(plain))
	assert.Len(t, n.Rules(), len(DefaultRules())+1)
}

func TestNew_RejectsInvalidRules(t *testing.T) {
	_, err := New(nil, Rule{Type: models.EventSystemError})
	assert.Error(t, err)

	_, err = New(nil, Rule{Table: "users"})
	assert.Error(t, err)

	_, err = New(nil, Rule{Table: "users", Operation: "UPSERT", Type: models.EventUserRegistered})
	assert.Error(t, err)
}

func TestNormalize_MarksTruncatedRecords(t *testing.T) {
	n := newNormalizer(t)

	ev := n.Normalize(models.ChangeRecord{
		Table:      "users",
		Operation:  models.OpUpdate,
		New:        map[string]any{"id": "u1", "is_verified": true},
		Old:        map[string]any{"id": "u1", "is_verified": false},
		CommitTime: commit,
		Truncated:  true,
	})

	assert.Equal(t, models.EventUserVerified, ev.Type)
	assert.Equal(t, true, ev.Data["truncated"])
}
