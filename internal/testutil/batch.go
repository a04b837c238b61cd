package testutil

// DefaultBatchID is what a FixedBatchGenerator returns when built with an
// empty ID.
const DefaultBatchID = "test-batch-default"

// FixedBatchGenerator stamps every batch with one ID, so a scenario run
// renders the same trace each time. It satisfies assign.BatchIDGenerator.
type FixedBatchGenerator struct {
	id string
}

// NewFixedBatchGenerator returns a generator for id, usually a scenario's
// batch_id. An empty id falls back to DefaultBatchID.
func NewFixedBatchGenerator(id string) *FixedBatchGenerator {
	if id == "" {
		id = DefaultBatchID
	}
	return &FixedBatchGenerator{id: id}
}

// Generate returns the fixed ID. Safe for concurrent use.
func (g *FixedBatchGenerator) Generate() string {
	return g.id
}
