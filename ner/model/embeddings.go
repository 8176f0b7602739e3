package model

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// wordEmbeddings is a pretrained word-vector table loaded from a text file
// in the word2vec format: an optional "count dim" header followed by one
// "word v1 … vD" line per word.
type wordEmbeddings struct {
	vocab   map[string]int64
	vectors [][]float64
	dim     int
}

// loadWordEmbeddings reads the whole file into memory. A missing or
// malformed file is fatal for the run.
func loadWordEmbeddings(path string) (*wordEmbeddings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening embedding file: %w", err)
	}
	defer f.Close()

	emb := &wordEmbeddings{vocab: make(map[string]int64)}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if lineNo == 1 && len(fields) == 2 {
			// word2vec header line
			continue
		}
		word := fields[0]
		vector := make([]float64, len(fields)-1)
		for i, field := range fields[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("embedding file %s line %d: %w", path, lineNo, err)
			}
			vector[i] = v
		}
		if emb.dim == 0 {
			emb.dim = len(vector)
		} else if len(vector) != emb.dim {
			return nil, fmt.Errorf("embedding file %s line %d: dimension %d, want %d",
				path, lineNo, len(vector), emb.dim)
		}
		if _, ok := emb.vocab[word]; ok {
			continue
		}
		emb.vocab[word] = int64(len(emb.vectors))
		emb.vectors = append(emb.vectors, vector)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading embedding file %s: %w", path, err)
	}
	if len(emb.vectors) == 0 {
		return nil, fmt.Errorf("embedding file %s contains no vectors", path)
	}
	return emb, nil
}
