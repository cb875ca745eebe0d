package domain

// Record is a row in the records table. A record is eligible for embedding
// backfill iff Embedding is nil.
type Record struct {
	ID        int64
	AssetURL  string
	Embedding []float32
}

// NeedsEmbedding reports whether the record is still pending backfill.
func (r *Record) NeedsEmbedding() bool {
	return len(r.Embedding) == 0
}
