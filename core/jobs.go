package core

import (
	"fmt"
	"strings"
)

const (
	TaskConnectionSync      = "connection-sync"
	TaskTokenRefresh        = "token-refresh"
	TaskTokenRefreshSweep   = "token-refresh-sweep"
	TaskConnectionScheduler = "connection-sync-scheduler"

	TaskParamConnectionID = "connection_id"

	// DedupPolicyDrop discards an enqueue whose singleton key is already held.
	DedupPolicyDrop = "drop"
)

// NewTaskMessage builds a queue message for a task. A non-empty singletonKey
// asks the queue to run at most one message with that key at a time.
func NewTaskMessage(task string, payload map[string]any, singletonKey string) *JobExecutionMessage {
	task = strings.TrimSpace(task)
	msg := &JobExecutionMessage{
		JobID:          task,
		ScriptPath:     task,
		Parameters:     copyAnyMap(payload),
		IdempotencyKey: strings.TrimSpace(singletonKey),
	}
	if msg.IdempotencyKey != "" {
		msg.DedupPolicy = DedupPolicyDrop
	}
	return msg
}

// NewConnectionTaskMessage builds a per-connection task keyed on the
// connection id so all refresh and sync work for one connection is serialized.
func NewConnectionTaskMessage(task string, connectionID string) *JobExecutionMessage {
	connectionID = strings.TrimSpace(connectionID)
	return NewTaskMessage(task, map[string]any{TaskParamConnectionID: connectionID}, connectionID)
}

// ConnectionIDParam extracts the connection id from a task message.
func ConnectionIDParam(msg *JobExecutionMessage) (string, error) {
	if msg == nil {
		return "", NewBadInputError("core: task message is required")
	}
	raw, ok := msg.Parameters[TaskParamConnectionID]
	if !ok {
		return "", NewBadInputError(fmt.Sprintf("core: task %s missing %s", msg.JobID, TaskParamConnectionID))
	}
	id := strings.TrimSpace(fmt.Sprint(raw))
	if id == "" || id == "<nil>" {
		return "", NewBadInputError(fmt.Sprintf("core: task %s has empty %s", msg.JobID, TaskParamConnectionID))
	}
	return id, nil
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
