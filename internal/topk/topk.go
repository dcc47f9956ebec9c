// Package topk holds the insertion-ordered score map shared by every tier
// and the stable Top-K selection applied to it.
package topk

import (
	"encoding/json"
	"sort"
)

// ScoreMap maps device ids to scores and remembers the order in which ids
// were first inserted. That order is the tie-break of Select.
type ScoreMap struct {
	keys   []string
	scores map[string]int
}

func NewScoreMap() *ScoreMap {
	return &ScoreMap{scores: make(map[string]int)}
}

// FromEntries builds a map from an ordered entry list.
func FromEntries(entries []Entry) *ScoreMap {
	m := NewScoreMap()
	for _, e := range entries {
		m.Set(e.DeviceID, e.Score)
	}
	return m
}

// Set stores score for deviceID. An existing id keeps its position.
func (m *ScoreMap) Set(deviceID string, score int) {
	if _, ok := m.scores[deviceID]; !ok {
		m.keys = append(m.keys, deviceID)
	}
	m.scores[deviceID] = score
}

func (m *ScoreMap) Get(deviceID string) (int, bool) {
	s, ok := m.scores[deviceID]
	return s, ok
}

// Merge copies every entry of other into m in other's order; values from
// other win on collision.
func (m *ScoreMap) Merge(other *ScoreMap) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		m.Set(k, other.scores[k])
	}
}

func (m *ScoreMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the device ids in insertion order.
func (m *ScoreMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Entries returns the map as an ordered entry list.
func (m *ScoreMap) Entries() []Entry {
	out := make([]Entry, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, Entry{DeviceID: k, Score: m.scores[k]})
	}
	return out
}

func (m *ScoreMap) Clone() *ScoreMap {
	c := NewScoreMap()
	c.Merge(m)
	return c
}

// Entry is one ranked device as it travels on the wire.
type Entry struct {
	DeviceID string `json:"deviceId"`
	Score    int    `json:"score"`
}

// MarshalJSON encodes the map as an ordered entry array so the insertion
// order survives the hop to the parent.
func (m *ScoreMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Entries())
}

func (m *ScoreMap) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*m = *FromEntries(entries)
	return nil
}

// Select returns the k best entries of m, highest score first. Equal scores
// keep insertion order. The result length is min(k, m.Len()).
func Select(m *ScoreMap, k int) []Entry {
	if m == nil || k <= 0 {
		return []Entry{}
	}
	entries := m.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	if k < len(entries) {
		entries = entries[:k]
	}
	return entries
}
