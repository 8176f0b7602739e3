package features

import (
	"fmt"
	"strings"

	internal "github.com/PurestEarth/nertrain/ner"
	"github.com/PurestEarth/nertrain/ner/corpus"
)

// EncodedExample is one example after sub-word encoding and sentence
// markers, ready to be packed. All five arrays are parallel; their length
// is at most maxSeqLen (truncation arithmetic below).
type EncodedExample struct {
	GUID      string
	TokenIDs  []int64
	InputMask []int64
	LabelIDs  []int64
	ValidMask []int64
	LabelMask []int64
}

// EncodeExample sub-word-encodes every whitespace token of an example.
// The first sub-word piece of a word inherits the word's label with
// validity 1 and label_mask 1; continuation pieces get IGNORE, validity 0,
// label_mask 0 — their predictions are never scored. If the encoded length
// reaches maxSeqLen-1 the arrays are truncated to maxSeqLen-2 before the
// sentence markers (BOS id 0, EOS id 2) are added.
func EncodeExample(example corpus.Example, labelMap *LabelMap, maxSeqLen int, enc WordEncoder) (EncodedExample, error) {
	words := strings.Split(example.TextA, " ")

	var tokenIDs, labelIDs, validMask, labelMask []int64
	for i, word := range words {
		pieces, err := enc.EncodeWord(strings.TrimSpace(word))
		if err != nil {
			return EncodedExample{}, fmt.Errorf("example %s: encoding %q: %w", example.GUID, word, err)
		}
		if i >= len(example.Labels) {
			return EncodedExample{}, fmt.Errorf("example %s: word %d has no label", example.GUID, i)
		}
		wordLabelID, err := labelMap.ID(example.Labels[i])
		if err != nil {
			return EncodedExample{}, fmt.Errorf("example %s: %w", example.GUID, err)
		}
		for m, piece := range pieces {
			tokenIDs = append(tokenIDs, piece)
			if m == 0 {
				labelIDs = append(labelIDs, wordLabelID)
				validMask = append(validMask, 1)
				labelMask = append(labelMask, 1)
			} else {
				labelIDs = append(labelIDs, internal.IgnoreLabelID)
				validMask = append(validMask, 0)
				labelMask = append(labelMask, 0)
			}
		}
	}

	if len(tokenIDs) >= maxSeqLen-1 {
		tokenIDs = tokenIDs[:maxSeqLen-2]
		labelIDs = labelIDs[:maxSeqLen-2]
		validMask = validMask[:maxSeqLen-2]
		labelMask = labelMask[:maxSeqLen-2]
	}

	n := len(tokenIDs) + 2
	out := EncodedExample{
		GUID:      example.GUID,
		TokenIDs:  make([]int64, 0, n),
		InputMask: make([]int64, 0, n),
		LabelIDs:  make([]int64, 0, n),
		ValidMask: make([]int64, 0, n),
		LabelMask: make([]int64, 0, n),
	}
	out.TokenIDs = append(out.TokenIDs, internal.BOSTokenID)
	out.LabelIDs = append(out.LabelIDs, internal.IgnoreLabelID)
	out.ValidMask = append(out.ValidMask, 0)
	out.LabelMask = append(out.LabelMask, 0)

	out.TokenIDs = append(out.TokenIDs, tokenIDs...)
	out.LabelIDs = append(out.LabelIDs, labelIDs...)
	out.ValidMask = append(out.ValidMask, validMask...)
	out.LabelMask = append(out.LabelMask, labelMask...)

	out.TokenIDs = append(out.TokenIDs, internal.EOSTokenID)
	out.LabelIDs = append(out.LabelIDs, internal.IgnoreLabelID)
	out.ValidMask = append(out.ValidMask, 0)
	out.LabelMask = append(out.LabelMask, 0)

	for range out.TokenIDs {
		out.InputMask = append(out.InputMask, 1)
	}
	return out, nil
}

// Packer accumulates encoded examples into fixed-length records,
// concatenating sequences across document boundaries to reduce padding
// waste. Boundaries are not marked inside a packed record beyond the
// per-example sentence markers. The fold is pure in the sense that every
// transition is (state, example) -> (state', emitted record?), which keeps
// the packing logic testable without a corpus.
type Packer struct {
	maxSeqLen int
	pending   EncodedExample
}

// NewPacker returns an empty Packer for records of length maxSeqLen.
func NewPacker(maxSeqLen int) *Packer {
	return &Packer{maxSeqLen: maxSeqLen}
}

// Add folds the next encoded example into the pending buffer. When the
// example no longer fits, the buffer is flushed as one padded record and
// the example starts a new buffer.
func (p *Packer) Add(ex EncodedExample) (Record, bool) {
	if len(ex.TokenIDs)+len(p.pending.TokenIDs) > p.maxSeqLen {
		record := p.pad(p.pending)
		p.pending = ex
		return record, true
	}
	p.pending.TokenIDs = append(p.pending.TokenIDs, ex.TokenIDs...)
	p.pending.InputMask = append(p.pending.InputMask, ex.InputMask...)
	p.pending.LabelIDs = append(p.pending.LabelIDs, ex.LabelIDs...)
	p.pending.ValidMask = append(p.pending.ValidMask, ex.ValidMask...)
	p.pending.LabelMask = append(p.pending.LabelMask, ex.LabelMask...)
	return Record{}, false
}

// Flush emits whatever remains in the buffer, if anything.
func (p *Packer) Flush() (Record, bool) {
	if len(p.pending.TokenIDs) == 0 {
		return Record{}, false
	}
	record := p.pad(p.pending)
	p.pending = EncodedExample{}
	return record, true
}

// pad right-fills the buffer up to maxSeqLen: pad token id 1, all masks 0,
// label id IGNORE.
func (p *Packer) pad(buf EncodedExample) Record {
	record := Record{
		InputIDs:  append([]int64(nil), buf.TokenIDs...),
		InputMask: append([]int64(nil), buf.InputMask...),
		LabelIDs:  append([]int64(nil), buf.LabelIDs...),
		ValidMask: append([]int64(nil), buf.ValidMask...),
		LabelMask: append([]int64(nil), buf.LabelMask...),
	}
	for len(record.InputIDs) < p.maxSeqLen {
		record.InputIDs = append(record.InputIDs, internal.PadTokenID)
		record.InputMask = append(record.InputMask, 0)
		record.LabelIDs = append(record.LabelIDs, internal.IgnoreLabelID)
		record.ValidMask = append(record.ValidMask, 0)
		record.LabelMask = append(record.LabelMask, 0)
	}
	return record
}

// BuildPacked converts examples with the transformer packing strategy: each
// example is sub-word encoded, wrapped in sentence markers and folded
// through the Packer. One record may span multiple source documents.
func BuildPacked(examples []corpus.Example, labelMap *LabelMap, maxSeqLen int, enc WordEncoder) ([]Record, error) {
	packer := NewPacker(maxSeqLen)
	var records []Record
	for _, example := range examples {
		encoded, err := EncodeExample(example, labelMap, maxSeqLen, enc)
		if err != nil {
			return nil, err
		}
		if record, ok := packer.Add(encoded); ok {
			if err := record.Validate(maxSeqLen); err != nil {
				return nil, err
			}
			records = append(records, record)
		}
	}
	if record, ok := packer.Flush(); ok {
		if err := record.Validate(maxSeqLen); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
