package persist

// Persister handles I/O for a specific state type using a Codec.
type Persister[T any] struct {
	codec Codec
}

// NewPersister creates a persister for T with the given codec.
func NewPersister[T any](codec Codec) *Persister[T] {
	return &Persister[T]{codec: codec}
}

// Path returns where basename is stored in dir.
func (p *Persister[T]) Path(dir, basename string) string {
	return StatePath(dir, basename, p.codec)
}

// Save atomically writes state.
func (p *Persister[T]) Save(dir, basename string, state *T) error {
	return SaveState(dir, basename, p.codec, state)
}

// Load reads a previously saved state.
func (p *Persister[T]) Load(dir, basename string) (*T, error) {
	var state T

	err := LoadState(dir, basename, p.codec, &state)
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// Exists reports whether a state file is present.
func (p *Persister[T]) Exists(dir, basename string) (bool, error) {
	return StateExists(dir, basename, p.codec)
}
