package model

import (
	"encoding/gob"
	"fmt"
	"os"
)

// SaveWeights writes a gob-encoded parameter snapshot.
func SaveWeights(path string, params []*Parameter) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating weight file %s: %w", path, err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(NewStateDict(params)); err != nil {
		return fmt.Errorf("encoding weights to %s: %w", path, err)
	}
	return nil
}

// LoadWeights reads a snapshot back into the given parameters. In strict
// mode every parameter must be present; otherwise parameters absent from
// the snapshot (a freshly initialized classification head, typically) keep
// their current values.
func LoadWeights(path string, params []*Parameter, strict bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening weight file %s: %w", path, err)
	}
	defer f.Close()
	var sd StateDict
	if err := gob.NewDecoder(f).Decode(&sd); err != nil {
		return fmt.Errorf("decoding weights from %s: %w", path, err)
	}
	if strict {
		return sd.Apply(params)
	}
	byName := make(map[string]int, len(sd.Names))
	for i, name := range sd.Names {
		byName[name] = i
	}
	var present []*Parameter
	for _, p := range params {
		if _, ok := byName[p.Name]; ok {
			present = append(present, p)
		}
	}
	return sd.Apply(present)
}
