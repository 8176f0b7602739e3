package features

import "fmt"

// Record is a single fixed-length feature record. The five arrays are
// parallel and all have length == max_seq_length:
//
//	InputIDs  — token ids from the model's word encoder
//	InputMask — 1 where the position carries a real token
//	LabelIDs  — mapped label ids, IGNORE on padding and continuations
//	ValidMask — 1 where the position carries a word-initial label; these are
//	            exactly the positions projected back to word-level spans
//	LabelMask — 1 where the position contributes to the loss
type Record struct {
	InputIDs  []int64
	InputMask []int64
	LabelIDs  []int64
	ValidMask []int64
	LabelMask []int64
}

// WordEncoder is the model-supplied encoder mapping one orthographic word
// to its id sequence. The recurrent tagger yields a single id per word,
// the transformer variants one id per sub-word piece.
type WordEncoder interface {
	EncodeWord(word string) ([]int64, error)
}

// Validate checks the parallel-array invariant.
func (r Record) Validate(maxSeqLen int) error {
	for name, arr := range map[string][]int64{
		"input_ids":  r.InputIDs,
		"input_mask": r.InputMask,
		"label_ids":  r.LabelIDs,
		"valid_mask": r.ValidMask,
		"label_mask": r.LabelMask,
	} {
		if len(arr) != maxSeqLen {
			return fmt.Errorf("record %s has length %d, want %d", name, len(arr), maxSeqLen)
		}
	}
	return nil
}
