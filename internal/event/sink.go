package event

// Sink receives committed envelopes. The engine calls Emit exactly
// once per successful mutation, after state has changed.
type Sink interface {
	Emit(Envelope) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Envelope) error

func (f SinkFunc) Emit(env Envelope) error { return f(env) }

// NopSink discards everything, for tests and tooling.
type NopSink struct{}

func (NopSink) Emit(Envelope) error { return nil }

// FanoutSink delivers each envelope to every child in order. The first
// error stops the fanout; persistence goes first in production wiring
// so the durable path fails before any best-effort one runs.
type FanoutSink struct {
	sinks []Sink
}

func NewFanoutSink(sinks ...Sink) *FanoutSink {
	return &FanoutSink{sinks: sinks}
}

func (f *FanoutSink) Emit(env Envelope) error {
	for _, s := range f.sinks {
		if err := s.Emit(env); err != nil {
			return err
		}
	}
	return nil
}
