package model

import (
	"fmt"
	"path/filepath"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
)

// wordpieceEncoder wraps a BERT-style WordPiece tokenizer for the
// pretrained transformer. It encodes one word at a time without special
// tokens; the packing strategy adds its own sentence markers.
type wordpieceEncoder struct {
	t         *tk.Tokenizer
	vocabSize int
}

// newWordpieceEncoder loads vocab.txt from the pretrained directory.
func newWordpieceEncoder(pretrainedDir string) (*wordpieceEncoder, error) {
	vocabFile := filepath.Join(pretrainedDir, "vocab.txt")
	wp, err := wordpiece.NewWordPieceFromFile(vocabFile, "[UNK]")
	if err != nil {
		return nil, fmt.Errorf("loading wordpiece vocab from %s: %w", vocabFile, err)
	}

	t := tk.NewTokenizer(wp)
	t.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	return &wordpieceEncoder{t: t, vocabSize: t.GetVocabSize(true)}, nil
}

// EncodeWord returns the sub-word piece ids of one word.
func (w *wordpieceEncoder) EncodeWord(word string) ([]int64, error) {
	enc, err := w.t.Encode(tk.NewSingleEncodeInput(tk.NewInputSequence(word)), false)
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w", word, err)
	}
	ids := enc.GetIds()
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out, nil
}
