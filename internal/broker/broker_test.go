package broker_test

import (
	"fmt"
	"testing"

	"github.com/seantiz/dutharness/internal/broker"
	"github.com/seantiz/dutharness/internal/model"
)

func progress(runID, data string) model.Report {
	return model.Report{RunID: runID, Status: model.StatusInProgress, Data: data}
}

func terminal(runID, data string) model.Report {
	return model.Report{RunID: runID, Status: model.StatusFinished, Data: data}
}

func drain(ch <-chan model.Report) []string {
	var got []string
	for r := range ch {
		got = append(got, r.Data)
	}
	return got
}

func TestBrokerSingleSubscriber(t *testing.T) {
	b := broker.New()
	ch, unsub := b.Subscribe("r1")
	defer unsub()

	b.Publish(progress("r1", "step 1"))
	b.Publish(progress("r1", "step 2"))
	b.Publish(terminal("r1", "ok"))

	got := drain(ch)
	want := []string{"step 1", "step 2", "ok"}
	if len(got) != len(want) {
		t.Fatalf("got %d reports, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("report[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	b := broker.New()
	ch1, unsub1 := b.Subscribe("r1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("r1")
	defer unsub2()

	b.Publish(terminal("r1", "hello"))

	if got := drain(ch1); len(got) != 1 || got[0] != "hello" {
		t.Errorf("subscriber 1 got %v, want [hello]", got)
	}
	if got := drain(ch2); len(got) != 1 || got[0] != "hello" {
		t.Errorf("subscriber 2 got %v, want [hello]", got)
	}
}

func TestBrokerTopicsAreIsolated(t *testing.T) {
	b := broker.New()
	ch, unsub := b.Subscribe("r1")
	defer unsub()

	b.Publish(progress("r2", "other run"))
	b.Publish(terminal("r1", "mine"))

	if got := drain(ch); len(got) != 1 || got[0] != "mine" {
		t.Errorf("got %v, want [mine]", got)
	}
}

func TestBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := broker.New()
	b.Publish(terminal("r1", "done"))

	ch, unsub := b.Subscribe("r1")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestBrokerReportsAfterTerminalAreDropped(t *testing.T) {
	b := broker.New()
	all, unsubAll := b.SubscribeAll()
	defer unsubAll()
	ch, unsub := b.Subscribe("r1")
	defer unsub()

	b.Publish(terminal("r1", "done"))
	b.Publish(progress("r1", "late"))

	if got := drain(ch); len(got) != 1 || got[0] != "done" {
		t.Errorf("run subscriber got %v, want [done]", got)
	}

	// The firehose sees everything that was published.
	b.Shutdown()
	if got := drain(all); len(got) != 2 {
		t.Errorf("firehose got %v, want 2 reports", got)
	}
}

func TestBrokerFirehoseReceivesUnscopedReports(t *testing.T) {
	b := broker.New()
	ch, unsub := b.SubscribeAll()
	defer unsub()

	b.Publish(model.Report{Status: model.StatusFailed, Data: "rejected"})
	b.Publish(progress("r1", "step"))

	for _, want := range []string{"rejected", "step"} {
		r := <-ch
		if r.Data != want {
			t.Errorf("report = %q, want %q", r.Data, want)
		}
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := broker.New()
	ch, unsub := b.Subscribe("r1")
	unsub()

	b.Publish(terminal("r1", "after unsub"))

	select {
	case r, ok := <-ch:
		if ok {
			t.Errorf("got unexpected report %q after unsubscribe", r.Data)
		}
	default:
	}
}

func TestBrokerSlowSubscriberDropsReports(t *testing.T) {
	b := broker.New()
	ch, unsub := b.SubscribeAll()
	defer unsub()

	for range 200 {
		b.Publish(progress("r1", "flood"))
	}

	if n := len(ch); n != cap(ch) {
		t.Errorf("buffered reports = %d, want %d", n, cap(ch))
	}
}

func TestBrokerShutdownClosesSubscribers(t *testing.T) {
	b := broker.New()
	ch1, _ := b.Subscribe("r1")
	ch2, _ := b.SubscribeAll()

	b.Shutdown()

	if _, ok := <-ch1; ok {
		t.Error("run subscriber should be closed after Shutdown")
	}
	if _, ok := <-ch2; ok {
		t.Error("firehose subscriber should be closed after Shutdown")
	}

	ch3, _ := b.SubscribeAll()
	if _, ok := <-ch3; ok {
		t.Error("subscription after Shutdown should be closed")
	}
}

func TestBrokerDropsEndedTopics(t *testing.T) {
	b := broker.New()

	ch, unsub := b.Subscribe("r1")
	defer unsub()
	if n := b.Len(); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}

	b.Publish(terminal("r1", "done"))
	drain(ch)
	if n := b.Len(); n != 0 {
		t.Errorf("Len after terminal = %d, want 0", n)
	}

	_, unsub2 := b.Subscribe("r2")
	unsub2()
	if n := b.Len(); n != 0 {
		t.Errorf("Len after last unsubscribe = %d, want 0", n)
	}
}

func TestBrokerEndedRunsAreBounded(t *testing.T) {
	b := broker.New()
	for i := range 5000 {
		b.Publish(progress(fmt.Sprintf("r%d", i), "step"))
		b.Publish(terminal(fmt.Sprintf("r%d", i), "done"))
	}
	if n := b.Len(); n != 0 {
		t.Errorf("Len = %d, want 0", n)
	}

	// The newest run is still known to have ended.
	ch, unsub := b.Subscribe("r4999")
	defer unsub()
	if _, ok := <-ch; ok {
		t.Error("recent ended run should give a closed channel")
	}

	// The oldest has been forgotten and gets an open topic.
	old, unsubOld := b.Subscribe("r0")
	select {
	case _, ok := <-old:
		t.Errorf("forgotten run channel received (ok=%v), want open and empty", ok)
	default:
	}
	unsubOld()
	if n := b.Len(); n != 0 {
		t.Errorf("Len after unsubscribe = %d, want 0", n)
	}
}
