package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	internal "github.com/PurestEarth/nertrain/ner"
	"github.com/PurestEarth/nertrain/ner/runctx"
)

// documentFile mirrors the on-disk JSON layout: chunks are nested arrays of
// token objects, annotations a flat table.
type documentFile struct {
	Chunks      [][][]Token  `json:"chunks"`
	Annotations []Annotation `json:"annotations"`
}

// ReadDocument parses one annotation file into a Document.
// Token order follows the chunk nesting of the first chunk group.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", path, err)
	}
	var file documentFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing document %s: %w", path, err)
	}
	doc := &Document{
		Path:        path,
		Annotations: make(map[int]Annotation, len(file.Annotations)),
	}
	for _, ann := range file.Annotations {
		doc.Annotations[ann.ID] = ann
	}
	if len(file.Chunks) > 0 {
		for _, chunk := range file.Chunks[0] {
			doc.Tokens = append(doc.Tokens, chunk...)
		}
	}
	return doc, nil
}

// TokenLabels projects a document onto parallel (token, label) sequences.
// A token's label is the type of the first annotation covering it, or the
// "O" sentinel when no annotation does. A reference to a missing annotation
// id means the file is corrupt.
func (d *Document) TokenLabels(ctx context.Context, rc *runctx.RunContext) ([]string, []string, error) {
	tokens := make([]string, 0, len(d.Tokens))
	labels := make([]string, 0, len(d.Tokens))
	for _, tok := range d.Tokens {
		label := internal.OutsideLabel
		if len(tok.Annotations) > 0 {
			ann, ok := d.Annotations[tok.Annotations[0]]
			if !ok {
				return nil, nil, fmt.Errorf("document %s: token %q references unknown annotation id %d",
					d.Path, tok.Orth, tok.Annotations[0])
			}
			label = ann.Type
		}
		tokens = append(tokens, tok.Orth)
		labels = append(labels, label)
	}
	// a corrupt corpus must not be silently tolerated downstream
	rc.Assert.Assert(ctx, len(tokens) == len(labels),
		fmt.Sprintf("document %s: token count %d != label count %d", d.Path, len(tokens), len(labels)))
	return tokens, labels, nil
}
