package eventbridge

import (
	"errors"
	"testing"
)

func TestRouterBuffersAndFlushes(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(4))
	first := Event{EventID: "evt-1", SessionID: "alpha", Type: TypeSubmission}
	second := Event{EventID: "evt-2", SessionID: "alpha", Type: TypePhaseEnd}
	router.Route(first)
	router.Route(second)
	sub := router.Subscribe("alpha")
	defer sub.Close()
	got1 := <-sub.Events
	if got1.EventID != first.EventID {
		t.Fatalf("expected first buffered event, got %s", got1.EventID)
	}
	got2 := <-sub.Events
	if got2.EventID != second.EventID {
		t.Fatalf("expected second buffered event, got %s", got2.EventID)
	}
}

func TestRouterDedupeByEventID(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe("alpha")
	defer sub.Close()
	event := Event{EventID: "evt-1", SessionID: "alpha", Type: TypeSubmission}
	router.Route(event)
	router.Route(event)
	select {
	case got := <-sub.Events:
		if got.EventID != event.EventID {
			t.Fatalf("unexpected event: %s", got.EventID)
		}
	default:
		t.Fatalf("expected first delivery")
	}
	select {
	case <-sub.Events:
		t.Fatalf("duplicate event delivered")
	default:
	}
}

func TestRouterDropsOldestPreferredEventOnOverflow(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe("alpha")
	defer sub.Close()
	oldest := Event{EventID: "evt-1", SessionID: "alpha", Type: TypeSubmission}
	critical := Event{EventID: "evt-2", SessionID: "alpha", Type: TypeSessionEnd}
	router.Route(oldest)
	router.Route(critical)
	if got := <-sub.Events; got.EventID != critical.EventID {
		t.Fatalf("expected critical event to replace oldest, got %s", got.EventID)
	}
}

func TestRouterDropsIncomingWhenOldestCritical(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe("alpha")
	defer sub.Close()
	oldest := Event{EventID: "evt-1", SessionID: "alpha", Type: TypeSessionEnd}
	droppable := Event{EventID: "evt-2", SessionID: "alpha", Type: TypeSubmission}
	router.Route(oldest)
	router.Route(droppable)
	if got := <-sub.Events; got.EventID != oldest.EventID {
		t.Fatalf("expected oldest critical event to remain, got %s", got.EventID)
	}
	select {
	case <-sub.Events:
		t.Fatalf("unexpected extra event")
	default:
	}
}

func TestRouterWildcardSeesEverySession(t *testing.T) {
	router := NewRouter()
	all := router.Subscribe(AllSessions)
	defer all.Close()
	router.Route(Event{EventID: "a", SessionID: "one", Type: TypePhaseStart})
	router.Route(Event{EventID: "b", SessionID: "two", Type: TypePhaseStart})
	for _, want := range []string{"a", "b"} {
		if got := <-all.Events; got.EventID != want {
			t.Fatalf("expected %s, got %s", want, got.EventID)
		}
	}
	// Wildcard delivery does not consume the per-session backlog.
	one := router.Subscribe("one")
	defer one.Close()
	if got := <-one.Events; got.EventID != "a" {
		t.Fatalf("expected buffered event for session one, got %s", got.EventID)
	}
}

func TestEmitterStampsSequence(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe("s1")
	defer sub.Close()
	emitter := NewEmitter(router)
	emitter.Emit("s1", "t1", TypePhaseStart, "submissions", map[string]int{"topics": 2})
	emitter.Emit("s1", "", TypePhaseEnd, "submissions", nil)
	first := <-sub.Events
	second := <-sub.Events
	if first.Sequence != 1 || second.Sequence != 2 {
		t.Fatalf("unexpected sequence %d, %d", first.Sequence, second.Sequence)
	}
	if first.TopicID != "t1" || string(first.Payload) != `{"topics":2}` {
		t.Fatalf("unexpected event %+v", first)
	}
	if first.EventID == "" || first.EventID == second.EventID {
		t.Fatalf("event ids must be unique")
	}
	var nilEmitter *Emitter
	nilEmitter.Emit("s1", "", TypeError, "ignored", nil)
}

func TestTeeFansOutAndJoinsErrors(t *testing.T) {
	var seen []string
	record := func(name string, err error) EventProcessor {
		return EventProcessorFunc(func(e Event) error {
			seen = append(seen, name+":"+e.EventID)
			return err
		})
	}
	boom := errors.New("boom")
	tee := Tee(record("a", nil), nil, record("b", boom))
	err := tee.HandleEvent(Event{EventID: "evt-1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(seen) != 2 || seen[0] != "a:evt-1" || seen[1] != "b:evt-1" {
		t.Fatalf("unexpected deliveries %v", seen)
	}
}
