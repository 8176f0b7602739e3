package train

import (
	"fmt"
	"sort"
	"strings"

	internal "github.com/PurestEarth/nertrain/ner"
	"github.com/PurestEarth/nertrain/ner/dataset"
	"github.com/PurestEarth/nertrain/ner/features"
	"github.com/PurestEarth/nertrain/ner/model"
)

// Evaluator computes span-level F1 over a dataset by projecting sub-word
// predictions back to word level through the validity mask.
type Evaluator struct {
	labelMap  *features.LabelMap
	batchSize int
}

// NewEvaluator builds an evaluator bound to the training label map.
func NewEvaluator(labelMap *features.LabelMap, batchSize int) *Evaluator {
	return &Evaluator{labelMap: labelMap, batchSize: batchSize}
}

// span is one labeled entity: a maximal run of identical non-O labels.
type span struct {
	start int
	end   int // exclusive
	label string
}

// extractSpans reads spans out of a word-level label sequence.
func extractSpans(labels []string) []span {
	var spans []span
	for i := 0; i < len(labels); {
		label := labels[i]
		if label == internal.OutsideLabel || label == internal.IgnoreLabel {
			i++
			continue
		}
		j := i + 1
		for j < len(labels) && labels[j] == label {
			j++
		}
		spans = append(spans, span{start: i, end: j, label: label})
		i = j
	}
	return spans
}

type typeCounts struct {
	tp, fp, fn int
}

func (c typeCounts) prf() (float64, float64, float64) {
	var precision, recall, f1 float64
	if c.tp+c.fp > 0 {
		precision = float64(c.tp) / float64(c.tp+c.fp)
	}
	if c.tp+c.fn > 0 {
		recall = float64(c.tp) / float64(c.tp+c.fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}

// Evaluate runs the model over the dataset and scores predicted spans
// against gold spans. Returns the micro-averaged F1 and a per-type report.
func (e *Evaluator) Evaluate(m model.Model, data *dataset.Dataset) (float64, string, error) {
	m.SetTraining(false)
	counts := make(map[string]*typeCounts)
	support := make(map[string]int)

	for _, batch := range data.Batches(dataset.SequentialSampler{}, e.batchSize) {
		predicted, err := m.Predict(batch.InputIDs, batch.ValidMask)
		if err != nil {
			return 0, "", fmt.Errorf("prediction failed: %w", err)
		}
		for row := range batch.InputIDs {
			gold, pred, err := e.projectRow(batch, predicted, row)
			if err != nil {
				return 0, "", err
			}
			e.scoreRow(gold, pred, counts, support)
		}
	}

	var micro typeCounts
	for _, c := range counts {
		micro.tp += c.tp
		micro.fp += c.fp
		micro.fn += c.fn
	}
	_, _, f1 := micro.prf()
	return f1, e.report(counts, support, micro), nil
}

// projectRow takes the validity-marked positions in order, reconstructing
// exactly one label per original word.
func (e *Evaluator) projectRow(batch dataset.Batch, predicted [][]int64, row int) ([]string, []string, error) {
	var gold, pred []string
	for pos, valid := range batch.ValidMask[row] {
		if valid != 1 {
			continue
		}
		goldLabel, err := e.labelMap.Label(batch.LabelIDs[row][pos])
		if err != nil {
			return nil, nil, fmt.Errorf("row %d pos %d: %w", row, pos, err)
		}
		predLabel, err := e.labelMap.Label(predicted[row][pos])
		if err != nil {
			return nil, nil, fmt.Errorf("row %d pos %d: %w", row, pos, err)
		}
		gold = append(gold, goldLabel)
		pred = append(pred, predLabel)
	}
	return gold, pred, nil
}

func (e *Evaluator) scoreRow(gold, pred []string, counts map[string]*typeCounts, support map[string]int) {
	goldSpans := extractSpans(gold)
	predSpans := extractSpans(pred)
	matched := make([]bool, len(predSpans))

	for _, gs := range goldSpans {
		support[gs.label]++
		if counts[gs.label] == nil {
			counts[gs.label] = &typeCounts{}
		}
		found := false
		for i, ps := range predSpans {
			if !matched[i] && ps == gs {
				matched[i] = true
				found = true
				break
			}
		}
		if found {
			counts[gs.label].tp++
		} else {
			counts[gs.label].fn++
		}
	}
	for i, ps := range predSpans {
		if matched[i] {
			continue
		}
		if counts[ps.label] == nil {
			counts[ps.label] = &typeCounts{}
		}
		counts[ps.label].fp++
	}
}

func (e *Evaluator) report(counts map[string]*typeCounts, support map[string]int, micro typeCounts) string {
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %9s %9s %9s %9s\n", "", "precision", "recall", "f1-score", "support")
	for _, label := range labels {
		p, r, f1 := counts[label].prf()
		fmt.Fprintf(&b, "%-16s %9.4f %9.4f %9.4f %9d\n", label, p, r, f1, support[label])
	}
	p, r, f1 := micro.prf()
	var total int
	for _, s := range support {
		total += s
	}
	fmt.Fprintf(&b, "\n%-16s %9.4f %9.4f %9.4f %9d\n", "micro avg", p, r, f1, total)
	return b.String()
}
