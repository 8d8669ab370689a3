package pdfrender

import (
	"fmt"
	"iter"
)

// Batch is a contiguous half-open range [Start, End) of 0-based page indices.
type Batch struct {
	Start int
	End   int
}

// FirstPage is the 1-based number of the first page in the batch.
func (batch Batch) FirstPage() int { return batch.Start + 1 }

// LastPage is the 1-based number of the last page in the batch, inclusive.
func (batch Batch) LastPage() int { return batch.End }

// Len is the number of pages in the batch.
func (batch Batch) Len() int { return batch.End - batch.Start }

// String renders the batch as the 1-based page range shown to users.
func (batch Batch) String() string {
	return fmt.Sprintf("pages %d-%d", batch.FirstPage(), batch.LastPage())
}

// Batches partitions pageCount pages into consecutive batches of at most batchSize
// pages, in increasing order. The sequence is lazy and can be ranged over more than once.
// A zero page count yields no batches.
func Batches(pageCount, batchSize int) iter.Seq[Batch] {
	if batchSize < 1 {
		panic(fmt.Sprintf("pdfrender: batch size must be at least 1, got %d", batchSize))
	}

	return func(yield func(Batch) bool) {
		for start := 0; start < pageCount; start += batchSize {
			end := min(start+batchSize, pageCount)
			if !yield(Batch{Start: start, End: end}) {
				return
			}
		}
	}
}

// BatchCount is the number of batches Batches yields: ceil(pageCount / batchSize).
func BatchCount(pageCount, batchSize int) int {
	if pageCount <= 0 {
		return 0
	}

	return (pageCount + batchSize - 1) / batchSize
}
