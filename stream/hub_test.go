package stream

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/Andrey79999/kanban/domain"
)

func testEvent() domain.Event {
	task := domain.Task{ID: "t1", Title: "hello", Status: domain.StatusTodo}
	return domain.Event{Kind: domain.EventTaskCreated, Origin: "origin", Timestamp: time.Now().UTC(), Task: &task}
}

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func assertEmpty(t *testing.T, ch <-chan []byte) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func deletedTaskID(t *testing.T, msg []byte) string {
	t.Helper()
	var frame struct {
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(msg, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame.Data.TaskID
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	h := NewHub(log.New(), time.Second)
	original, err := h.Register("c1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := h.Register("c1"); !errors.Is(err, domain.ErrDuplicateClient) {
		t.Fatalf("expected duplicate client error, got %v", err)
	}

	// The original registration stays intact and keeps receiving.
	h.Broadcast(testEvent(), "")
	if msg := recv(t, original.Frames()); len(msg) == 0 {
		t.Fatal("empty broadcast frame")
	}
	if h.Count() != 1 {
		t.Fatalf("expected 1 connection, got %d", h.Count())
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h := NewHub(log.New(), time.Second)
	if _, err := h.Register("c1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	h.Unregister("c1")
	h.Unregister("c1")
	h.Unregister("never-registered")
	if h.Count() != 0 {
		t.Fatalf("expected empty hub, got %d", h.Count())
	}
}

func TestUnregisterClosesDone(t *testing.T) {
	h := NewHub(log.New(), time.Second)
	sub, err := h.Register("c1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	h.Unregister("c1")
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after unregister")
	}
}

func TestBroadcastExcludesOriginator(t *testing.T) {
	h := NewHub(log.New(), time.Second)
	originator, err := h.Register("c1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	other, err := h.Register("c2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	h.Broadcast(testEvent(), "c1")

	if msg := recv(t, other.Frames()); len(msg) == 0 {
		t.Fatal("empty broadcast frame")
	}
	assertEmpty(t, originator.Frames())
}

func TestBroadcastDropsUnresponsiveConnection(t *testing.T) {
	h := NewHub(log.New(), 20*time.Millisecond)

	// c1 never drains its channel; fill its buffer so the next delivery
	// has to queue behind it and time out.
	stalled, err := h.Register("c1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	healthy, err := h.Register("c2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < connBuffer+1; i++ {
		h.Broadcast(testEvent(), "c2")
	}

	deadline := time.Now().Add(time.Second)
	for h.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected dead connection to be removed, count=%d", h.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The dropped connection's reader is told to go away.
	select {
	case <-stalled.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after drop")
	}

	// Delivery to the healthy connection is unaffected.
	h.Broadcast(testEvent(), "")
	recv(t, healthy.Frames())
}

func TestDroppedIDCanReconnect(t *testing.T) {
	h := NewHub(log.New(), 10*time.Millisecond)
	if _, err := h.Register("c1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < connBuffer+1; i++ {
		h.Broadcast(testEvent(), "")
	}
	deadline := time.Now().Add(time.Second)
	for h.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("dead connection never removed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fresh, err := h.Register("c1")
	if err != nil {
		t.Fatalf("re-register after drop: %v", err)
	}
	h.Broadcast(testEvent(), "")
	recv(t, fresh.Frames())
}

func TestBroadcastToEmptyHub(t *testing.T) {
	h := NewHub(log.New(), time.Second)
	h.Broadcast(testEvent(), "")
}

func TestBroadcastPreservesOrderPerConnection(t *testing.T) {
	h := NewHub(log.New(), time.Second)
	sub, err := h.Register("c1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	statuses := []domain.Status{domain.StatusInProgress, domain.StatusDone, domain.StatusTodo}
	for _, s := range statuses {
		h.Broadcast(domain.NewTaskStatusChanged("t1", domain.StatusTodo, s, ""), "")
	}
	for _, want := range statuses {
		msg := recv(t, sub.Frames())
		var frame struct {
			Data struct {
				NewStatus string `json:"newStatus"`
			} `json:"data"`
		}
		if err := sonic.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if frame.Data.NewStatus != string(want) {
			t.Fatalf("out of order: expected %s got %s", want, frame.Data.NewStatus)
		}
	}
}

// A frame that overflows the buffer must not be overtaken by a later
// broadcast whose buffered send would succeed: once a frame is queued,
// every subsequent frame queues behind it.
func TestOverflowedFrameIsNotOvertaken(t *testing.T) {
	h := NewHub(log.New(), time.Second)
	sub, err := h.Register("c1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// Fill the buffer, overflow it by one, then broadcast once more while
	// the overflow is still queued.
	total := connBuffer + 2
	for i := 0; i < total; i++ {
		h.Broadcast(domain.NewTaskDeleted(fmt.Sprintf("t%03d", i), ""), "")
	}

	for i := 0; i < total; i++ {
		want := fmt.Sprintf("t%03d", i)
		if got := deletedTaskID(t, recv(t, sub.Frames())); got != want {
			t.Fatalf("frame %d out of order: expected %s got %s", i, want, got)
		}
	}
}

// Frames broadcast while a drain is still working through the overflow
// queue keep their order too.
func TestOrderHeldAcrossDrainAndFastPath(t *testing.T) {
	h := NewHub(log.New(), time.Second)
	sub, err := h.Register("c1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	total := connBuffer + 1
	for i := 0; i < total; i++ {
		h.Broadcast(domain.NewTaskDeleted(fmt.Sprintf("t%03d", i), ""), "")
	}
	// Free one slot so the queued frame can move, then immediately race a
	// fresh broadcast against the drain.
	if got := deletedTaskID(t, recv(t, sub.Frames())); got != "t000" {
		t.Fatalf("expected t000 first, got %s", got)
	}
	h.Broadcast(domain.NewTaskDeleted(fmt.Sprintf("t%03d", total), ""), "")

	for i := 1; i <= total; i++ {
		want := fmt.Sprintf("t%03d", i)
		if got := deletedTaskID(t, recv(t, sub.Frames())); got != want {
			t.Fatalf("frame %d out of order: expected %s got %s", i, want, got)
		}
	}
}
