package train

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/PurestEarth/nertrain/ner/features"
	"github.com/PurestEarth/nertrain/ner/model"
	"github.com/PurestEarth/nertrain/ner/runctx"
)

// Params is the hyperparameter sidecar persisted next to model weights.
// LabelList order re-derives the label map on reload, so it must be
// preserved exactly between save and load.
type Params struct {
	Dropout   float64  `json:"dropout"`
	NumLabels int      `json:"num_labels"`
	LabelList []string `json:"label_list"`
}

// EnsureFreshOutputDir creates the output directory, refusing to reuse a
// non-empty one.
func EnsureFreshOutputDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) > 0 {
		return fmt.Errorf("output directory %s already exists and is not empty", dir)
	}
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checking output directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", dir, err)
	}
	return nil
}

// SaveCheckpoint persists model weights as model.pt plus params.json.
func SaveCheckpoint(dir string, m model.Model, params Params) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory %s: %w", dir, err)
	}
	if err := model.SaveWeights(filepath.Join(dir, "model.pt"), m.Parameters()); err != nil {
		return err
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "params.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing params.json: %w", err)
	}
	return nil
}

// LoadParams reads the hyperparameter sidecar from a checkpoint directory.
func LoadParams(dir string) (Params, error) {
	data, err := os.ReadFile(filepath.Join(dir, "params.json"))
	if err != nil {
		return Params{}, fmt.Errorf("reading params.json: %w", err)
	}
	var params Params
	if err := json.Unmarshal(data, &params); err != nil {
		return Params{}, fmt.Errorf("decoding params.json: %w", err)
	}
	return params, nil
}

// LoadCheckpoint rebuilds a model from a checkpoint directory: the
// sidecar restores the label map (exact order) and classifier width,
// then weights load strictly, so any shape or name drift is an error.
func LoadCheckpoint(rc *runctx.RunContext, dir string, kind model.Kind, cfg model.Config) (model.Model, *features.LabelMap, error) {
	params, err := LoadParams(dir)
	if err != nil {
		return nil, nil, err
	}
	labelMap := features.FromOrderedLabels(params.LabelList)
	cfg.NumLabels = params.NumLabels
	cfg.Dropout = params.Dropout
	m, err := model.New(rc, kind, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := model.LoadWeights(filepath.Join(dir, "model.pt"), m.Parameters(), true); err != nil {
		return nil, nil, err
	}
	return m, labelMap, nil
}

// WriteEvalResults stores a standalone evaluation report as
// eval_results.txt under dir.
func WriteEvalResults(dir string, f1 float64, report string) error {
	body := fmt.Sprintf("f1 = %.6f\n\n%s\n", f1, report)
	if err := os.WriteFile(filepath.Join(dir, "eval_results.txt"), []byte(body), 0o644); err != nil {
		return fmt.Errorf("writing eval_results.txt: %w", err)
	}
	return nil
}
