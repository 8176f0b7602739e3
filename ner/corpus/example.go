package corpus

import (
	"fmt"
	"sort"
	"strings"
)

// Example is a single training or evaluation example derived from one
// document. TextB is unused for tagging but kept so examples stay pair-task
// compatible.
type Example struct {
	GUID   string
	TextA  string
	TextB  string
	Labels []string
}

// BuildExamples turns loaded (tokens, labels) pairs into Examples and
// simultaneously collects the label vocabulary observed across the corpus.
// The returned label list is sorted: label-map construction depends on
// enumeration order and must be deterministic across train/validation calls.
func BuildExamples(tokens [][]string, labels [][]string, setType string) ([]Example, []string) {
	examples := make([]Example, 0, len(tokens))
	seen := make(map[string]struct{})
	for i := range tokens {
		for _, label := range labels[i] {
			seen[label] = struct{}{}
		}
		examples = append(examples, Example{
			GUID:   fmt.Sprintf("%s-%d", setType, i),
			TextA:  strings.Join(tokens[i], " "),
			Labels: labels[i],
		})
	}
	labelList := make([]string, 0, len(seen))
	for label := range seen {
		labelList = append(labelList, label)
	}
	sort.Strings(labelList)
	return examples, labelList
}
