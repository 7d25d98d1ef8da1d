// Package holdings persists per-position live-mode state: entry time,
// consecutive-hold count, and the stop-loss / take-profit levels recorded at
// entry. Absence of the state file is an empty store, not an error.
package holdings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Record is the persisted lifecycle state for one held symbol. StopLoss and
// TakeProfit stay nil until an entry event computes them.
type Record struct {
	EnteredAt   time.Time `json:"entered_at"`
	Consecutive int       `json:"consecutive_holds"`
	StopLoss    *float64  `json:"stop_loss,omitempty"`
	TakeProfit  *float64  `json:"take_profit,omitempty"`
}

// Store is the file-backed record set. Mutations are in-memory; callers
// flush with Save at cycle checkpoints.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
}

// NewStore builds a store bound to a JSON file path.
func NewStore(path string) *Store {
	return &Store{path: path, records: make(map[string]Record)}
}

// Load reads the state file. A missing file yields an empty store.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.records = make(map[string]Record)
			return nil
		}
		return fmt.Errorf("read holdings state: %w", err)
	}
	records := make(map[string]Record)
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode holdings state: %w", err)
	}
	s.records = records
	return nil
}

// Save writes the state file, creating parent directories as needed.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode holdings state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write holdings state: %w", err)
	}
	return nil
}

// Get returns the record for a symbol.
func (s *Store) Get(symbol string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[symbol]
	return rec, ok
}

// Symbols lists recorded symbols in sorted order.
func (s *Store) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for sym := range s.records {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// MarkEntry records a fresh entry: timestamp now, consecutive count bumped,
// and the computed exit levels attached.
func (s *Store) MarkEntry(symbol string, now time.Time, stopLoss, takeProfit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[symbol]
	rec.EnteredAt = now
	rec.Consecutive++
	rec.StopLoss = &stopLoss
	rec.TakeProfit = &takeProfit
	s.records[symbol] = rec
}

// Clear removes a symbol's record entirely; used when the position is fully
// closed.
func (s *Store) Clear(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, symbol)
}

// Sync reconciles records against the symbols actually held right now.
// Records for absent symbols are dropped; newly held symbols get an entry
// timestamp and a bumped consecutive count with exit levels left unset.
func (s *Store) Sync(current []string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := make(map[string]struct{}, len(current))
	for _, sym := range current {
		held[sym] = struct{}{}
	}
	for sym := range s.records {
		if _, ok := held[sym]; !ok {
			delete(s.records, sym)
		}
	}
	for sym := range held {
		if _, ok := s.records[sym]; ok {
			continue
		}
		s.records[sym] = Record{EnteredAt: now, Consecutive: 1}
	}
}

// OldestEntry returns the earliest entry timestamp across records, used to
// seed the rebalance clock after a restart.
func (s *Store) OldestEntry() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest time.Time
	found := false
	for _, rec := range s.records {
		if !found || rec.EnteredAt.Before(oldest) {
			oldest = rec.EnteredAt
			found = true
		}
	}
	return oldest, found
}
