package dataset

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PurestEarth/nertrain/ner/features"
)

func makeRecords(n, maxSeqLen int) []features.Record {
	records := make([]features.Record, n)
	for i := range records {
		r := features.Record{
			InputIDs:  make([]int64, maxSeqLen),
			InputMask: make([]int64, maxSeqLen),
			LabelIDs:  make([]int64, maxSeqLen),
			ValidMask: make([]int64, maxSeqLen),
			LabelMask: make([]int64, maxSeqLen),
		}
		// stamp the record index so batch contents are traceable
		r.InputIDs[0] = int64(i)
		records[i] = r
	}
	return records
}

func TestNew(t *testing.T) {
	t.Run("preserves record order", func(t *testing.T) {
		d, err := New(makeRecords(4, 8), FamilyTransformer, 8)
		require.NoError(t, err)
		require.Equal(t, 4, d.Len())
		for i := 0; i < 4; i++ {
			assert.Equal(t, int64(i), d.InputIDs[i][0])
		}
	})

	t.Run("rejects records of the wrong length", func(t *testing.T) {
		records := makeRecords(2, 8)
		records[1].LabelIDs = records[1].LabelIDs[:5]
		_, err := New(records, FamilyTransformer, 8)
		assert.Error(t, err)
	})
}

func TestBatches(t *testing.T) {
	d, err := New(makeRecords(5, 8), FamilyTransformer, 8)
	require.NoError(t, err)

	t.Run("sequential sampler keeps order, last batch is short", func(t *testing.T) {
		batches := d.Batches(SequentialSampler{}, 2)
		require.Len(t, batches, 3)
		assert.Len(t, batches[0].InputIDs, 2)
		assert.Len(t, batches[2].InputIDs, 1)
		assert.Equal(t, int64(0), batches[0].InputIDs[0][0])
		assert.Equal(t, int64(4), batches[2].InputIDs[0][0])
	})

	t.Run("columns stay parallel within a batch", func(t *testing.T) {
		for _, batch := range d.Batches(SequentialSampler{}, 2) {
			assert.Len(t, batch.LabelIDs, len(batch.InputIDs))
			assert.Len(t, batch.LabelMask, len(batch.InputIDs))
			assert.Len(t, batch.ValidMask, len(batch.InputIDs))
		}
	})

	t.Run("random sampler covers every record exactly once", func(t *testing.T) {
		sampler := RandomSampler{Rand: rand.New(rand.NewSource(44))}
		seen := map[int64]int{}
		for _, batch := range d.Batches(sampler, 2) {
			for _, row := range batch.InputIDs {
				seen[row[0]]++
			}
		}
		require.Len(t, seen, 5)
		for id, count := range seen {
			assert.Equal(t, 1, count, "record %d sampled more than once", id)
		}
	})

	t.Run("same seed reproduces the same order", func(t *testing.T) {
		a := d.Batches(RandomSampler{Rand: rand.New(rand.NewSource(7))}, 5)
		b := d.Batches(RandomSampler{Rand: rand.New(rand.NewSource(7))}, 5)
		require.Len(t, a, 1)
		require.Len(t, b, 1)
		for i := range a[0].InputIDs {
			assert.Equal(t, a[0].InputIDs[i][0], b[0].InputIDs[i][0])
		}
	})
}
