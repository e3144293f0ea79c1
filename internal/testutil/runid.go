package testutil

// FixedRunIDGenerator generates the same run ID every time.
//
// This enables deterministic harness execution and golden snapshot comparison.
// The same scenario with the same FixedRunIDGenerator produces byte-identical traces.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a new fixed run ID generator.
// If id is empty, Generate() returns "test-run-default".
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed run ID.
//
// Implements trace.RunIDGenerator.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}
