package emit

// Emitter receives observability events from the engine.
//
// Implementations must be safe for concurrent use and must not block:
// Emit is called inline from the execution loop.
type Emitter interface {
	Emit(event Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(event Event)

// Emit calls f(event).
func (f EmitterFunc) Emit(event Event) {
	f(event)
}
