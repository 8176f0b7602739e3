package corpus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PurestEarth/nertrain/ner/runctx"
)

func testRunContext(t *testing.T) *runctx.RunContext {
	t.Helper()
	rc, err := runctx.New(zerolog.Nop(), 44, "cpu")
	require.NoError(t, err)
	return rc
}

func writeDocument(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// a three-token document where one annotation spans two tokens and the
// third token is unannotated
const personDoc = `{
  "chunks": [[[
    {"orth": "Jan", "annotations": [7]},
    {"orth": "Kowalski", "annotations": [7]},
    {"orth": "pracuje", "annotations": []}
  ]]],
  "annotations": [
    {"id": 7, "type_id": 1, "type": "PERSON", "name": "Jan Kowalski"}
  ]
}`

func TestReadDocument(t *testing.T) {
	t.Run("flattens chunk nesting into one token sequence", func(t *testing.T) {
		path := writeDocument(t, t.TempDir(), "doc.json", personDoc)

		doc, err := ReadDocument(path)
		require.NoError(t, err)
		require.Len(t, doc.Tokens, 3)
		assert.Equal(t, "Jan", doc.Tokens[0].Orth)
		assert.Equal(t, "pracuje", doc.Tokens[2].Orth)
		assert.Contains(t, doc.Annotations, 7)
	})

	t.Run("rejects unparseable files", func(t *testing.T) {
		path := writeDocument(t, t.TempDir(), "bad.json", "{not json")

		_, err := ReadDocument(path)
		assert.Error(t, err)
	})
}

func TestTokenLabels(t *testing.T) {
	rc := testRunContext(t)
	ctx := context.Background()

	t.Run("token and label sequences stay aligned", func(t *testing.T) {
		// annotations covering zero, one and multiple tokens
		cases := []struct {
			name   string
			doc    *Document
			labels []string
		}{
			{
				name: "no annotations",
				doc: &Document{
					Tokens:      []Token{{Orth: "dom"}, {Orth: "stoi"}},
					Annotations: map[int]Annotation{},
				},
				labels: []string{"O", "O"},
			},
			{
				name: "single-token annotation",
				doc: &Document{
					Tokens: []Token{{Orth: "Warszawa", Annotations: []int{1}}, {Orth: "lezy"}},
					Annotations: map[int]Annotation{
						1: {ID: 1, Type: "CITY"},
					},
				},
				labels: []string{"CITY", "O"},
			},
			{
				name: "multi-token annotation",
				doc: &Document{
					Tokens: []Token{
						{Orth: "Jan", Annotations: []int{7}},
						{Orth: "Kowalski", Annotations: []int{7}},
						{Orth: "pracuje"},
					},
					Annotations: map[int]Annotation{
						7: {ID: 7, Type: "PERSON"},
					},
				},
				labels: []string{"PERSON", "PERSON", "O"},
			},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				tokens, labels, err := tc.doc.TokenLabels(ctx, rc)
				require.NoError(t, err)
				assert.Len(t, labels, len(tokens), "every token needs exactly one label")
				assert.Equal(t, tc.labels, labels)
			})
		}
	})

	t.Run("first covering annotation wins", func(t *testing.T) {
		doc := &Document{
			Tokens: []Token{{Orth: "Jan", Annotations: []int{2, 5}}},
			Annotations: map[int]Annotation{
				2: {ID: 2, Type: "PERSON"},
				5: {ID: 5, Type: "CITY"},
			},
		}
		_, labels, err := doc.TokenLabels(ctx, rc)
		require.NoError(t, err)
		assert.Equal(t, []string{"PERSON"}, labels)
	})

	t.Run("unknown annotation id is an error", func(t *testing.T) {
		doc := &Document{
			Path:        "broken.json",
			Tokens:      []Token{{Orth: "Jan", Annotations: []int{99}}},
			Annotations: map[int]Annotation{},
		}
		_, _, err := doc.TokenLabels(ctx, rc)
		assert.Error(t, err)
	})
}

func TestBuildExamples(t *testing.T) {
	tokens := [][]string{
		{"Jan", "Kowalski", "pracuje"},
		{"Ala"},
	}
	labels := [][]string{
		{"PERSON", "PERSON", "O"},
		{"PERSON"},
	}

	examples, labelList := BuildExamples(tokens, labels, "train")

	require.Len(t, examples, 2)
	assert.Equal(t, "train-0", examples[0].GUID)
	assert.Equal(t, "train-1", examples[1].GUID)
	assert.Equal(t, "Jan Kowalski pracuje", examples[0].TextA)
	assert.Equal(t, []string{"PERSON", "PERSON", "O"}, examples[0].Labels)

	// vocabulary is deduplicated and sorted for deterministic id assignment
	assert.Equal(t, []string{"O", "PERSON"}, labelList)
}

func TestLoaderMaxDocs(t *testing.T) {
	rc := testRunContext(t)
	ctx := context.Background()
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		writeDocument(t, dir, fmt.Sprintf("doc%d.json", i), personDoc)
	}
	// non-annotation files are skipped entirely
	writeDocument(t, dir, "notes.txt", "scratch")

	t.Run("zero loads everything", func(t *testing.T) {
		tokens, labels, err := NewLoader(rc, 0).LoadDir(ctx, dir)
		require.NoError(t, err)
		assert.Len(t, tokens, 3)
		assert.Len(t, labels, 3)
	})

	t.Run("positive cap bounds the prefix", func(t *testing.T) {
		tokens, _, err := NewLoader(rc, 2).LoadDir(ctx, dir)
		require.NoError(t, err)
		assert.Len(t, tokens, 2)
	})

	t.Run("output order follows lexical file order", func(t *testing.T) {
		tokens, labels, err := NewLoader(rc, 0).LoadDir(ctx, dir)
		require.NoError(t, err)
		for i := range tokens {
			assert.Equal(t, []string{"Jan", "Kowalski", "pracuje"}, tokens[i])
			assert.Equal(t, []string{"PERSON", "PERSON", "O"}, labels[i])
		}
	})
}
