// Package features converts (token, label) examples into fixed-length
// numeric records ready for batching, with one strategy per model family.
package features

import (
	"fmt"
	"sort"

	internal "github.com/PurestEarth/nertrain/ner"
)

// LabelMap is a deterministic bijection between label strings and small
// integer ids. Id 0 is reserved for the IGNORE pseudo-label used on padding
// and non-initial sub-word positions.
type LabelMap struct {
	toID  map[string]int64
	toStr []string
}

// NewLabelMap builds a map from a label list, assigning ids from 1 in list
// order. The input is sorted defensively so two callers handing over the
// same label set in different orders still agree on ids. Build it once from
// training data and reuse it unchanged for validation encoding.
func NewLabelMap(labels []string) *LabelMap {
	sorted := make([]string, len(labels))
	copy(sorted, labels)
	sort.Strings(sorted)
	return FromOrderedLabels(sorted)
}

// FromOrderedLabels builds a map preserving the given order exactly.
// Used on checkpoint reload, where params.json fixes the order.
func FromOrderedLabels(labels []string) *LabelMap {
	m := &LabelMap{
		toID:  make(map[string]int64, len(labels)+1),
		toStr: make([]string, 0, len(labels)+1),
	}
	m.toID[internal.IgnoreLabel] = internal.IgnoreLabelID
	m.toStr = append(m.toStr, internal.IgnoreLabel)
	for _, label := range labels {
		if _, ok := m.toID[label]; ok {
			continue
		}
		m.toID[label] = int64(len(m.toStr))
		m.toStr = append(m.toStr, label)
	}
	return m
}

// ID returns the id for a label string.
func (m *LabelMap) ID(label string) (int64, error) {
	id, ok := m.toID[label]
	if !ok {
		return 0, fmt.Errorf("label %q not in label map", label)
	}
	return id, nil
}

// Label returns the string for an id.
func (m *LabelMap) Label(id int64) (string, error) {
	if id < 0 || int(id) >= len(m.toStr) {
		return "", fmt.Errorf("label id %d out of range [0,%d)", id, len(m.toStr))
	}
	return m.toStr[id], nil
}

// NumLabels is the label count including the reserved IGNORE id.
func (m *LabelMap) NumLabels() int {
	return len(m.toStr)
}

// Labels returns the mapped labels in id order, IGNORE excluded.
// This is the ordered list persisted to params.json; feeding it back
// through FromOrderedLabels reproduces identical ids.
func (m *LabelMap) Labels() []string {
	out := make([]string, len(m.toStr)-1)
	copy(out, m.toStr[1:])
	return out
}
