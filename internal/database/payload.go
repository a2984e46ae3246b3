package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/funneldash/dashcore/internal/models"
)

// DefaultNotifyChannel is the channel the change trigger publishes on
const DefaultNotifyChannel = "dashcore_changes"

// changePayload is the JSON document built by dashcore_notify_change()
type changePayload struct {
	Table      string         `json:"table"`
	Operation  string         `json:"operation"`
	CommitTime string         `json:"commit_time"`
	Truncated  bool           `json:"truncated"`
	New        map[string]any `json:"new"`
	Old        map[string]any `json:"old"`
}

// commit_time comes from jsonb's rendering of timestamptz
var commitTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999-07:00",
	"2006-01-02T15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07",
}

// DecodeChange parses a notification payload. Numbers are kept as
// json.Number so ids survive unchanged.
func DecodeChange(payload string) (models.ChangeRecord, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()

	var p changePayload
	if err := dec.Decode(&p); err != nil {
		return models.ChangeRecord{}, fmt.Errorf("decode change payload: %w", err)
	}
	if p.Table == "" {
		return models.ChangeRecord{}, fmt.Errorf("change payload has no table")
	}

	op, err := models.ParseOperation(p.Operation)
	if err != nil || op == models.OpAny {
		return models.ChangeRecord{}, fmt.Errorf("change payload operation %q invalid", p.Operation)
	}

	rec := models.ChangeRecord{
		Table:     p.Table,
		Operation: op,
		New:       p.New,
		Old:       p.Old,
		Truncated: p.Truncated,
	}
	if p.CommitTime != "" {
		ts, err := parseCommitTime(p.CommitTime)
		if err != nil {
			return models.ChangeRecord{}, err
		}
		rec.CommitTime = ts
	}
	return rec, nil
}

func parseCommitTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range commitTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable commit_time %q", s)
}
