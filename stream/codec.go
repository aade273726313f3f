// Package stream implements the live-update fanout: a registry of client
// connections and the wire encoding of domain events.
//
// Wire format, one JSON object per SSE data frame, field order fixed:
//
//	{
//	  "type":      "task_created" | "task_updated" | "task_deleted" | "task_status_changed",
//	  "data":      <payload, see below>,
//	  "origin":    "<connection id of the acting client, may be absent>",
//	  "timestamp": "<RFC 3339 UTC>"
//	}
//
// Payloads: task snapshot for task_created/task_updated, {"taskId"} for
// task_deleted, {"taskId","oldStatus","newStatus"} for task_status_changed.
// A client that supplied its connection id on the stream handshake discards
// frames whose origin matches it; the server additionally never delivers a
// frame back to the originating connection.
package stream

import (
	"time"

	"github.com/bytedance/sonic"

	"github.com/Andrey79999/kanban/domain"
)

type wireMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Origin    string `json:"origin,omitempty"`
	Timestamp string `json:"timestamp"`
}

type taskDeletedData struct {
	TaskID string `json:"taskId"`
}

type statusChangedData struct {
	TaskID    string        `json:"taskId"`
	OldStatus domain.Status `json:"oldStatus"`
	NewStatus domain.Status `json:"newStatus"`
}

type connectedData struct {
	ClientID          string `json:"clientId"`
	ActiveConnections int    `json:"activeConnections"`
}

// EncodeEvent serializes a domain event into its wire message. Pure and
// deterministic: the same event always yields the same bytes.
func EncodeEvent(ev domain.Event) ([]byte, error) {
	msg := wireMessage{
		Type:      string(ev.Kind),
		Origin:    ev.Origin,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	switch ev.Kind {
	case domain.EventTaskCreated, domain.EventTaskUpdated:
		msg.Data = ev.Task
	case domain.EventTaskDeleted:
		msg.Data = taskDeletedData{TaskID: ev.TaskID}
	case domain.EventTaskStatusChanged:
		msg.Data = statusChangedData{TaskID: ev.TaskID, OldStatus: ev.OldStatus, NewStatus: ev.NewStatus}
	default:
		msg.Data = struct{}{}
	}
	return sonic.ConfigStd.Marshal(msg)
}

// EncodeConnected serializes the hello frame sent once per stream, right
// after registration succeeds.
func EncodeConnected(clientID string, activeConnections int) ([]byte, error) {
	return sonic.ConfigStd.Marshal(wireMessage{
		Type:      "connected",
		Data:      connectedData{ClientID: clientID, ActiveConnections: activeConnections},
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}
