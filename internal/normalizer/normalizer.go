// Package normalizer turns raw change-data-capture records into dashboard
// events. Normalization never fails: records no rule recognizes become
// data-changed events.
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/funneldash/dashcore/internal/models"
	"github.com/google/uuid"
)

// eventNamespace seeds deterministic event IDs so a redelivered record maps
// to the same event
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:dashcore:events"))

var (
	sessionKeys = []string{"session_id", "sessionId"}
	userKeys    = []string{"user_id", "userId"}
	idKeys      = []string{"id", "uuid"}
)

// Normalizer maps ChangeRecords to Events using an ordered rule table
type Normalizer struct {
	rules []Rule
	now   func() time.Time
}

// New builds a Normalizer. Rules are tried in order and the first match
// wins; extra rules are consulted before the defaults.
func New(now func() time.Time, extra ...Rule) (*Normalizer, error) {
	if now == nil {
		now = time.Now
	}
	rules := make([]Rule, 0, len(extra)+len(DefaultRules()))
	for i, r := range extra {
		if strings.TrimSpace(r.Table) == "" {
			return nil, fmt.Errorf("rule %d: table is required", i)
		}
		if r.Type == "" {
			return nil, fmt.Errorf("rule %d: type is required", i)
		}
		if r.Operation != "" {
			op, err := models.ParseOperation(string(r.Operation))
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			r.Operation = op
		}
		rules = append(rules, r)
	}
	rules = append(rules, DefaultRules()...)

	return &Normalizer{rules: rules, now: now}, nil
}

// Rules returns the effective rule table
func (n *Normalizer) Rules() []Rule {
	out := make([]Rule, len(n.rules))
	copy(out, n.rules)
	return out
}

// Classify returns the event type for rec
func (n *Normalizer) Classify(rec models.ChangeRecord) models.EventType {
	for _, r := range n.rules {
		if r.matches(rec) {
			return r.Type
		}
	}
	return models.EventDataChanged
}

// Normalize builds the Event for rec
func (n *Normalizer) Normalize(rec models.ChangeRecord) models.Event {
	row := rec.Row()

	ts := rec.CommitTime
	if ts.IsZero() {
		ts = n.now()
	}

	data := make(map[string]any, len(row)+3)
	for k, v := range row {
		data[k] = v
	}
	data["table"] = rec.Table
	data["operation"] = string(rec.Operation)
	if rec.Truncated {
		data["truncated"] = true
	}

	return models.Event{
		ID:        eventID(rec, row),
		Type:      n.Classify(rec),
		Data:      data,
		Timestamp: ts,
		UserID:    lookup(row, userKeys),
		SessionID: lookup(row, sessionKeys),
	}
}

func eventID(rec models.ChangeRecord, row map[string]any) string {
	rowID := lookup(row, idKeys)
	if rowID == "" || rec.CommitTime.IsZero() {
		return uuid.NewString()
	}
	name := strings.Join([]string{
		rec.Table,
		string(rec.Operation),
		rec.CommitTime.UTC().Format(time.RFC3339Nano),
		rowID,
	}, "|")
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

func lookup(row map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := row[k]
		if !ok || v == nil {
			continue
		}
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return ""
}
