package eden

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// State is the lifecycle state of a task as reported by the gateway.
type State string

const (
	StatePending  State = "pending"
	StateQueued   State = "queued"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// ParseState maps a raw status string to a State.
func ParseState(s string) (State, error) {
	switch st := State(strings.ToLower(strings.TrimSpace(s))); st {
	case StatePending, StateQueued, StateStarting, StateRunning, StateComplete, StateFailed:
		return st, nil
	}
	return "", &ProtocolError{Reason: fmt.Sprintf("unrecognized status %q", s)}
}

// Terminal reports whether no further status changes will follow.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Status is one decoded poll response. The zero-valued fields that do not
// apply to State are left empty.
type Status struct {
	State         State
	QueuePosition int    // queued only
	Progress      int    // 0-100; running only
	Output        string // latest artifact reference, if any
	Error         string // failed only
}

// PercentFromFraction converts a 0-1 progress fraction to a rounded percentage.
func PercentFromFraction(f float64) int {
	return int(math.Round(100 * f))
}

// flexNumber accepts a JSON number or a numeric string.
type flexNumber struct {
	value float64
	set   bool
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		n.value, n.set = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	n.value, n.set = v, true
	return nil
}

// statusPayload is the union of every poll response shape seen in the wild.
type statusPayload struct {
	Status        string          `json:"status"`
	StatusCode    flexNumber      `json:"status_code"`
	Progress      flexNumber      `json:"progress"`
	QueuePosition flexNumber      `json:"queue_position"`
	Output        json.RawMessage `json:"output"`
	File          string          `json:"file"`
	SHA           string          `json:"sha"`
	Error         string          `json:"error"`
	Message       string          `json:"message"`
}

// DecodeStatus parses a poll response body. It accepts a bare object or a
// single-element array, and normalizes queue position and progress across
// the status_code / progress / queue_position variants.
func DecodeStatus(body []byte) (Status, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Status{}, &ProtocolError{Reason: "empty status payload"}
	}

	var p statusPayload
	if body[0] == '[' {
		var list []statusPayload
		if err := json.Unmarshal(body, &list); err != nil {
			return Status{}, &ProtocolError{Reason: fmt.Sprintf("decode status: %v", err)}
		}
		if len(list) == 0 {
			return Status{}, &ProtocolError{Reason: "empty status list"}
		}
		p = list[0]
	} else if err := json.Unmarshal(body, &p); err != nil {
		return Status{}, &ProtocolError{Reason: fmt.Sprintf("decode status: %v", err)}
	}

	state, err := ParseState(p.Status)
	if err != nil {
		return Status{}, err
	}

	output, err := decodeOutput(p.Output)
	if err != nil {
		return Status{}, err
	}
	if output == "" {
		output = p.SHA
	}
	if output == "" {
		output = p.File
	}

	st := Status{State: state, Output: output}
	switch state {
	case StateQueued:
		switch {
		case p.QueuePosition.set:
			st.QueuePosition = int(p.QueuePosition.value)
		case p.StatusCode.set:
			st.QueuePosition = int(p.StatusCode.value)
		}
	case StateRunning:
		switch {
		case p.Progress.set:
			st.Progress = progressPercent(p.Progress.value)
		case p.StatusCode.set:
			st.Progress = clampPercent(int(math.Round(p.StatusCode.value)))
		}
	case StateComplete:
		st.Progress = 100
	case StateFailed:
		st.Error = p.Error
		if st.Error == "" {
			st.Error = p.Message
		}
	}
	return st, nil
}

// progressPercent reads the progress field, which carries a 0-1 fraction.
// A value above 1 cannot be a fraction and is taken as a percentage.
// status_code is always a percentage and never passes through here.
func progressPercent(v float64) int {
	if v > 1 {
		return clampPercent(int(math.Round(v)))
	}
	return clampPercent(PercentFromFraction(v))
}

func clampPercent(p int) int {
	return max(0, min(100, p))
}

// decodeOutput accepts a string reference or a list of them (the latest is last).
func decodeOutput(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", &ProtocolError{Reason: fmt.Sprintf("decode output: %v", err)}
		}
		return s, nil
	case '[':
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return "", &ProtocolError{Reason: fmt.Sprintf("decode output: %v", err)}
		}
		if len(list) == 0 {
			return "", nil
		}
		return list[len(list)-1], nil
	}
	return "", &ProtocolError{Reason: "output must be a string or list of strings"}
}
