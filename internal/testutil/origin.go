package testutil

// FixedOriginGenerator returns the same origin id every time.
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario with the same FixedOriginGenerator produces
// byte-identical event traces.
//
// Thread-safety: FixedOriginGenerator is stateless and safe for concurrent use.
type FixedOriginGenerator struct {
	id string
}

// NewFixedOriginGenerator creates a fixed origin id generator.
// If id is empty, Generate() returns "test-origin-default".
func NewFixedOriginGenerator(id string) *FixedOriginGenerator {
	if id == "" {
		id = "test-origin-default"
	}
	return &FixedOriginGenerator{id: id}
}

// Generate returns the fixed origin id.
//
// Implements channel.OriginGenerator.
func (g *FixedOriginGenerator) Generate() string {
	return g.id
}
