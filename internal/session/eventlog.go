// Package session ties the kernel together: it owns the logical clock, the
// append-only event log, the session lifecycle (running, complete,
// exhausted, failed), and deterministic replay of a persisted log back into
// an identical tree and fact store.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sovereign-research/orchestrator/internal/types"
)

// EventLog is the append-only transition record. Every mutation the tree
// manager performs lands here with a monotonic logical-clock stamp; replaying
// in stamp order reconstructs the session's tree and fact store.
type EventLog struct {
	mu     sync.Mutex
	clock  int64
	events []types.Event
}

// NewEventLog creates an empty log with the clock at zero.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// Record implements tot.Recorder: stamp, append, done. It never blocks on
// I/O; persistence is an explicit WriteJSONL call.
func (l *EventLog) Record(kind types.TransitionKind, nodeID string, payload map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock++
	l.events = append(l.events, types.Event{
		LogicalClock: l.clock,
		NodeID:       nodeID,
		Kind:         kind,
		Payload:      payload,
		Timestamp:    time.Now().UTC(),
	})
}

// Events returns a copy of the log in stamp order.
func (l *EventLog) Events() []types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// WriteJSONL encodes events one JSON object per line, a greppable
// append-only shape.
func WriteJSONL(w io.Writer, events []types.Event) error {
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("session: encode event %d: %w", ev.LogicalClock, err)
		}
	}
	return nil
}

// ReadJSONL decodes a JSONL event stream and returns the events sorted by
// logical clock.
func ReadJSONL(r io.Reader) ([]types.Event, error) {
	var events []types.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("session: decode event at line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].LogicalClock < events[j].LogicalClock })
	return events, nil
}

// SaveToFile persists the log as JSONL.
func (l *EventLog) SaveToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("session: create event log file: %w", err)
	}
	defer f.Close()
	return WriteJSONL(f, l.Events())
}

// LoadFromFile reads a persisted JSONL event log.
func LoadFromFile(path string) ([]types.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("session: open event log file: %w", err)
	}
	defer f.Close()
	return ReadJSONL(f)
}
