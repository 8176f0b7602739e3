package corpus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/iter"

	"github.com/PurestEarth/nertrain/ner/runctx"
)

// annotationExt is the recognized annotation-file extension
const annotationExt = ".json"

// Loader enumerates annotation files in a directory and parses each into
// aligned (token, label) sequences.
type Loader struct {
	rc *runctx.RunContext

	// MaxDocs bounds the number of documents read per directory.
	// Zero loads everything; a positive value is an explicit cap for
	// debugging runs, never a hidden default.
	MaxDocs int
}

// NewLoader returns a Loader reading at most maxDocs documents (0 = all).
func NewLoader(rc *runctx.RunContext, maxDocs int) *Loader {
	return &Loader{rc: rc, MaxDocs: maxDocs}
}

// LoadDir reads every recognized annotation file under dir, in lexical file
// order, and returns one (token-sequence, label-sequence) pair per document.
// Files are parsed in parallel; output order matches file order.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([][]string, [][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("listing corpus directory %s: %w", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), annotationExt) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	if l.MaxDocs > 0 && len(paths) > l.MaxDocs {
		l.rc.Log.Warn().Int("max_docs", l.MaxDocs).Int("found", len(paths)).
			Str("dir", dir).Msg("document cap active, truncating corpus")
		paths = paths[:l.MaxDocs]
	}

	type parsed struct {
		tokens []string
		labels []string
	}
	results, err := iter.MapErr(paths, func(path *string) (parsed, error) {
		doc, err := ReadDocument(*path)
		if err != nil {
			return parsed{}, err
		}
		tokens, labels, err := doc.TokenLabels(ctx, l.rc)
		if err != nil {
			return parsed{}, err
		}
		return parsed{tokens: tokens, labels: labels}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	allTokens := make([][]string, len(results))
	allLabels := make([][]string, len(results))
	for i, res := range results {
		allTokens[i] = res.tokens
		allLabels[i] = res.labels
	}
	l.rc.Log.Info().Int("documents", len(results)).Str("dir", dir).Msg("corpus loaded")
	return allTokens, allLabels, nil
}
