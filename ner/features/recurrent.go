package features

import (
	"fmt"
	"strings"

	internal "github.com/PurestEarth/nertrain/ner"
	"github.com/PurestEarth/nertrain/ner/corpus"
)

// BuildRecurrent converts examples with the per-document padding strategy
// used by the recurrent tagger: one encoded id per whitespace token,
// truncated to maxSeqLen or right-padded with id 0. No sub-word alignment
// happens here; label ids are matched positionally against the original
// per-token label list.
func BuildRecurrent(examples []corpus.Example, labelMap *LabelMap, maxSeqLen int, enc WordEncoder) ([]Record, error) {
	records := make([]Record, 0, len(examples))
	for _, example := range examples {
		words := strings.Split(example.TextA, " ")

		inputIDs := make([]int64, 0, maxSeqLen)
		for _, word := range words {
			ids, err := enc.EncodeWord(word)
			if err != nil {
				return nil, fmt.Errorf("example %s: encoding %q: %w", example.GUID, word, err)
			}
			if len(ids) != 1 {
				return nil, fmt.Errorf("example %s: recurrent encoder must yield one id per word, got %d for %q",
					example.GUID, len(ids), word)
			}
			inputIDs = append(inputIDs, ids[0])
		}
		realLen := len(inputIDs)
		if realLen > maxSeqLen {
			inputIDs = inputIDs[:maxSeqLen]
			realLen = maxSeqLen
		}
		for len(inputIDs) < maxSeqLen {
			inputIDs = append(inputIDs, 0)
		}

		record := Record{
			InputIDs:  inputIDs,
			InputMask: make([]int64, maxSeqLen),
			LabelIDs:  make([]int64, maxSeqLen),
			ValidMask: make([]int64, maxSeqLen),
			LabelMask: make([]int64, maxSeqLen),
		}
		for i := 0; i < maxSeqLen; i++ {
			if i < realLen {
				record.InputMask[i] = 1
				record.ValidMask[i] = 1
			}
			if i < len(example.Labels) && i < maxSeqLen {
				id, err := labelMap.ID(example.Labels[i])
				if err != nil {
					return nil, fmt.Errorf("example %s: %w", example.GUID, err)
				}
				record.LabelIDs[i] = id
				record.LabelMask[i] = 1
			} else {
				record.LabelIDs[i] = internal.IgnoreLabelID
			}
		}
		if err := record.Validate(maxSeqLen); err != nil {
			return nil, fmt.Errorf("example %s: %w", example.GUID, err)
		}
		records = append(records, record)
	}
	return records, nil
}
