package notify

import "testing"

func TestHubDeliversInOrderAndUnsubscribes(t *testing.T) {
	var h Hub[int]
	var got []string

	unsubA := h.Subscribe(func(v int) { got = append(got, "a") })
	h.Subscribe(func(v int) { got = append(got, "b") })

	h.Publish(1)
	unsubA()
	unsubA()
	h.Publish(2)

	want := []string{"a", "b", "b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if h.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Len())
	}
}

func TestHubUnsubscribeDuringPublish(t *testing.T) {
	var h Hub[string]
	calls := 0
	var unsub func()
	unsub = h.Subscribe(func(string) {
		calls++
		unsub()
	})
	h.Publish("x")
	h.Publish("y")
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}
