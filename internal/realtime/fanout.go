package realtime

import (
	"context"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/outbox"
)

// Fanout forwards each event to every sink in order. A failing sink fails the
// whole broadcast so the dispatcher retries; sinks that already succeeded see
// the event again, which subscribers tolerate.
type Fanout struct {
	sinks []outbox.Broadcaster
}

// NewFanout drops nil sinks. A typed nil (a nil *T stored in the interface)
// is not detected here; the sinks in this module handle a nil receiver.
func NewFanout(sinks ...outbox.Broadcaster) *Fanout {
	out := make([]outbox.Broadcaster, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Fanout{sinks: out}
}

func (f *Fanout) Broadcast(ctx context.Context, ev outbox.Event) error {
	for i, s := range f.sinks {
		if err := s.Broadcast(ctx, ev); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}
