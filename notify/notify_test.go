package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dmora/acpeer"
)

func note(method string) acpeer.Notification {
	return acpeer.Notification{Method: method, Params: json.RawMessage(`{}`)}
}

func collect(t *testing.T, ch <-chan acpeer.Notification, n int) []acpeer.Notification {
	t.Helper()
	var out []acpeer.Notification
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		case <-deadline:
			t.Fatalf("got %d notifications, want %d", len(out), n)
		}
	}
	return out
}

func TestFilter_PassesOnlyNamedMethods(t *testing.T) {
	in := make(chan acpeer.Notification, 4)
	out := Filter(context.Background(), in, "session/update", "terminal/exited")

	in <- note("session/update")
	in <- note("session/other")
	in <- note("terminal/exited")
	close(in)

	got := collect(t, out, 2)
	if got[0].Method != "session/update" || got[1].Method != "terminal/exited" {
		t.Errorf("unexpected methods: %v, %v", got[0].Method, got[1].Method)
	}
	if _, ok := <-out; ok {
		t.Error("output channel should be closed after input closes")
	}
}

func TestUpdates(t *testing.T) {
	in := make(chan acpeer.Notification, 2)
	out := Updates(context.Background(), in)

	in <- note("session/cancel")
	in <- note(acpeer.MethodSessionUpdate)
	close(in)

	got := collect(t, out, 1)
	if got[0].Method != acpeer.MethodSessionUpdate {
		t.Errorf("method = %q", got[0].Method)
	}
}

func TestMatch_Predicate(t *testing.T) {
	in := make(chan acpeer.Notification, 2)
	out := Match(context.Background(), in, func(n acpeer.Notification) bool {
		return n.Method != "drop/me"
	})

	in <- note("drop/me")
	in <- note("keep/me")
	close(in)

	got := collect(t, out, 1)
	if got[0].Method != "keep/me" {
		t.Errorf("method = %q", got[0].Method)
	}
}

func TestPipe_CancelStopsGoroutine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan acpeer.Notification)
	out := Filter(ctx, in, "any")

	cancel()
	select {
	case _, ok := <-out:
		if ok {
			t.Error("expected closed channel after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("output never closed after cancel")
	}
}
