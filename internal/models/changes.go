package models

import (
	"fmt"
	"strings"
	"time"
)

// ChangeOperation is the row-level operation of a change notification
type ChangeOperation string

const (
	OpInsert ChangeOperation = "INSERT"
	OpUpdate ChangeOperation = "UPDATE"
	OpDelete ChangeOperation = "DELETE"

	// OpAny matches every operation in a TopicFilter
	OpAny ChangeOperation = "*"
)

// ParseOperation normalizes an operation name, accepting any case
func ParseOperation(s string) (ChangeOperation, error) {
	switch op := ChangeOperation(strings.ToUpper(strings.TrimSpace(s))); op {
	case OpInsert, OpUpdate, OpDelete, OpAny:
		return op, nil
	case "":
		return OpAny, nil
	default:
		return "", fmt.Errorf("unknown change operation %q", s)
	}
}

// ChangeRecord is a raw change-data-capture notification as delivered by
// the backing store
type ChangeRecord struct {
	Table      string          `json:"table"`
	Operation  ChangeOperation `json:"operation"`
	New        map[string]any  `json:"new,omitempty"`
	Old        map[string]any  `json:"old,omitempty"`
	CommitTime time.Time       `json:"commit_time"`
	// Truncated is set when the row images were cut down to identifier and
	// classification columns to fit the notification size limit
	Truncated  bool            `json:"truncated,omitempty"`
	Channel    string          `json:"-"`
}

// Row returns the most relevant row image: old for deletes, new otherwise
func (c ChangeRecord) Row() map[string]any {
	if c.Operation == OpDelete && c.Old != nil {
		return c.Old
	}
	if c.New != nil {
		return c.New
	}
	return c.Old
}

// RowFilter restricts a topic to rows where Column equals Value
type RowFilter struct {
	Column string `json:"column" yaml:"column"`
	Value  string `json:"value" yaml:"value"`
}

// TopicFilter selects which change notifications a Channel receives
type TopicFilter struct {
	Table     string          `json:"table" yaml:"table"`
	Operation ChangeOperation `json:"operation" yaml:"operation"`
	Row       *RowFilter      `json:"row,omitempty" yaml:"row,omitempty"`
}

// Matches reports whether rec falls within the filter
func (f TopicFilter) Matches(rec ChangeRecord) bool {
	if f.Table != "" && f.Table != "*" && f.Table != rec.Table {
		return false
	}
	if f.Operation != "" && f.Operation != OpAny && f.Operation != rec.Operation {
		return false
	}
	if f.Row != nil {
		row := rec.Row()
		if row == nil {
			return false
		}
		v, ok := row[f.Row.Column]
		if !ok || fmt.Sprint(v) != f.Row.Value {
			return false
		}
	}
	return true
}

// Equal compares two filters by value
func (f TopicFilter) Equal(other TopicFilter) bool {
	if f.Table != other.Table || f.normalizedOp() != other.normalizedOp() {
		return false
	}
	if f.Row == nil || other.Row == nil {
		return f.Row == nil && other.Row == nil
	}
	return *f.Row == *other.Row
}

func (f TopicFilter) normalizedOp() ChangeOperation {
	if f.Operation == "" {
		return OpAny
	}
	return f.Operation
}

func (f TopicFilter) String() string {
	s := fmt.Sprintf("%s:%s", f.Table, f.normalizedOp())
	if f.Row != nil {
		s += fmt.Sprintf(":%s=%s", f.Row.Column, f.Row.Value)
	}
	return s
}

// ConnectionState is the lifecycle state of a Channel
type ConnectionState string

const (
	StateIdle       ConnectionState = "idle"
	StateConnecting ConnectionState = "connecting"
	StateSubscribed ConnectionState = "subscribed"
	StateError      ConnectionState = "error"
	StateFailed     ConnectionState = "failed"
	StateClosed     ConnectionState = "closed"
)

// Terminal reports whether no automatic transition leaves this state
func (s ConnectionState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// StateChange describes a Channel transition
type StateChange struct {
	Channel   string          `json:"channel"`
	From      ConnectionState `json:"from"`
	To        ConnectionState `json:"to"`
	Attempt   int             `json:"attempt,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
