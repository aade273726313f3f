package stream

import (
	"bytes"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/Andrey79999/kanban/domain"
)

func fixedTime() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestEncodeEventDeterministic(t *testing.T) {
	task := domain.Task{ID: "t1", Title: "Draft release notes", Status: domain.StatusTodo}
	ev := domain.Event{Kind: domain.EventTaskCreated, Origin: "c1", Timestamp: fixedTime(), Task: &task}

	first, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("encoding not deterministic:\n%s\n%s", first, second)
	}
}

func TestEncodeTaskCreatedCarriesSnapshotAndOrigin(t *testing.T) {
	task := domain.Task{ID: "t1", Title: "Draft release notes", Status: domain.StatusTodo}
	data, err := EncodeEvent(domain.Event{Kind: domain.EventTaskCreated, Origin: "c1", Timestamp: fixedTime(), Task: &task})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var msg struct {
		Type   string      `json:"type"`
		Data   domain.Task `json:"data"`
		Origin string      `json:"origin"`
	}
	if err := sonic.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if msg.Type != "task_created" {
		t.Fatalf("unexpected type %q", msg.Type)
	}
	if msg.Data.ID != "t1" || msg.Data.Title != "Draft release notes" {
		t.Fatalf("unexpected payload: %+v", msg.Data)
	}
	if msg.Origin != "c1" {
		t.Fatalf("unexpected origin %q", msg.Origin)
	}
}

func TestEncodeTaskDeletedPayload(t *testing.T) {
	data, err := EncodeEvent(domain.NewTaskDeleted("t9", ""))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var msg struct {
		Type string `json:"type"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if msg.Type != "task_deleted" || msg.Data.TaskID != "t9" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestEncodeStatusChangedPayload(t *testing.T) {
	data, err := EncodeEvent(domain.NewTaskStatusChanged("t3", domain.StatusTodo, domain.StatusDone, "c2"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var msg struct {
		Type string `json:"type"`
		Data struct {
			TaskID    string `json:"taskId"`
			OldStatus string `json:"oldStatus"`
			NewStatus string `json:"newStatus"`
		} `json:"data"`
		Origin string `json:"origin"`
	}
	if err := sonic.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if msg.Type != "task_status_changed" {
		t.Fatalf("unexpected type %q", msg.Type)
	}
	if msg.Data.TaskID != "t3" || msg.Data.OldStatus != "todo" || msg.Data.NewStatus != "done" {
		t.Fatalf("unexpected payload: %+v", msg.Data)
	}
	if msg.Origin != "c2" {
		t.Fatalf("unexpected origin %q", msg.Origin)
	}
}

func TestEncodeConnected(t *testing.T) {
	data, err := EncodeConnected("c7", 3)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var msg struct {
		Type string `json:"type"`
		Data struct {
			ClientID          string `json:"clientId"`
			ActiveConnections int    `json:"activeConnections"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if msg.Type != "connected" || msg.Data.ClientID != "c7" || msg.Data.ActiveConnections != 3 {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
