package ingestion

import (
	"testing"
	"time"

	"LendLedger/internal/event"
	"LendLedger/internal/observability"
)

func TestParsePriceUpdate(t *testing.T) {
	data := []byte(`{"value":"250000000","scale":"100000000","sequence":42,"timestamp_us":1700000000000000}`)

	p, err := ParsePriceUpdate(data)
	if err != nil {
		t.Fatalf("ParsePriceUpdate: %v", err)
	}
	if p.Value.Uint64() != 250_000_000 || p.Scale.Uint64() != 100_000_000 {
		t.Fatalf("price %s/%s", p.Value, p.Scale)
	}
	if p.Sequence != 42 {
		t.Fatalf("sequence %d", p.Sequence)
	}
	if p.Timestamp != time.UnixMicro(1700000000000000).UTC() {
		t.Fatalf("timestamp %v", p.Timestamp)
	}
}

func TestParsePriceUpdateDefaultsScale(t *testing.T) {
	p, err := ParsePriceUpdate([]byte(`{"value":"100000000","sequence":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.Scale.Uint64() != 100_000_000 {
		t.Fatalf("scale %s, want feed default", p.Scale)
	}
}

func TestParsePriceUpdateRejectsGarbage(t *testing.T) {
	cases := []string{
		`not json`,
		`{"value":"abc","sequence":1}`,
		`{"value":"1","scale":"0","sequence":1}`,
		`{"value":"-5","sequence":1}`,
	}
	for _, c := range cases {
		if _, err := ParsePriceUpdate([]byte(c)); err == nil {
			t.Errorf("accepted %q", c)
		}
	}
}

func TestPublishSinkDropsWhenFull(t *testing.T) {
	ch := make(chan event.Envelope, 1)
	sink := NewPublishSink(ch, (*observability.Metrics)(nil))

	if err := sink.Emit(event.Envelope{Sequence: 1}); err != nil {
		t.Fatal(err)
	}
	// Channel full: must not block, must not error.
	if err := sink.Emit(event.Envelope{Sequence: 2}); err != nil {
		t.Fatal(err)
	}

	got := <-ch
	if got.Sequence != 1 {
		t.Fatalf("kept envelope %d, want 1", got.Sequence)
	}
	select {
	case env := <-ch:
		t.Fatalf("second envelope %d not dropped", env.Sequence)
	default:
	}
}
