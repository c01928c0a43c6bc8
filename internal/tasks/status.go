package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

type State string

const (
	StatePending   State = "pending"
	StateStarted   State = "started"
	StateProcessed State = "processed"
	StateFailed    State = "failed"
)

// Status is the caller-facing view of a queued task.
type Status struct {
	TaskID string `json:"task_id"`
	State  State  `json:"state"`
	// Unknown is set when the queue has no record of the id, either because it
	// was never enqueued or its retention window has passed.
	Unknown bool            `json:"unknown,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Failure string          `json:"failure,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func statusFromInfo(info *asynq.TaskInfo) Status {
	st := Status{TaskID: info.ID}
	switch info.State {
	case asynq.TaskStateActive:
		st.State = StateStarted
	case asynq.TaskStateCompleted:
		st.State = StateProcessed
		st.Result = resultJSON(info.Result)
	case asynq.TaskStateArchived:
		st.State = StateFailed
		st.Error = info.LastErr
		st.Result = resultJSON(info.Result)
		var res OrderResult
		if len(info.Result) > 0 && json.Unmarshal(info.Result, &res) == nil && res.Failure != "" {
			st.Failure = res.Failure
			st.Error = res.Reason
		}
	default:
		// pending, scheduled, retry and aggregating all mean "not run to completion yet"
		st.State = StatePending
		if info.State == asynq.TaskStateRetry {
			st.Error = info.LastErr
		}
	}
	return st
}

// results that are not JSON are passed through as a JSON string
func resultJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	s, _ := json.Marshal(string(b))
	return s
}
