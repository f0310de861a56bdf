package instrument

// NoopRecorder discards all events. Used when instrumentation is disabled.
type NoopRecorder struct{}

func (NoopRecorder) Record(Event) {}
