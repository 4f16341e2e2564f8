package api

import "github.com/samcharles93/kvrun/internal/inference"

// GenerateRequest is the body of POST /v1/generate. Either Prompt or
// InputIDs must be set; when both are, InputIDs are fed to the graph and
// Prompt only seeds the output text.
type GenerateRequest struct {
	Prompt     string  `json:"prompt,omitempty"`
	InputIDs   []int64 `json:"input_ids,omitempty"`
	GenLen     *int    `json:"gen_len,omitempty"`
	EOSTokenID *int    `json:"eos_token_id,omitempty"`
	StopPolicy string  `json:"stop_policy,omitempty"`
	StopIndex  int     `json:"stop_index,omitempty"`
	Stream     bool    `json:"stream,omitempty"`
}

// Generation statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

type Generation struct {
	ID        string           `json:"id"`
	Object    string           `json:"object"`
	CreatedAt int64            `json:"created_at"`
	Status    string           `json:"status"`
	Prompt    string           `json:"prompt"`
	Outputs   []string         `json:"outputs,omitempty"`
	Stats     *inference.Stats `json:"stats,omitempty"`
	Error     *ResponseError   `json:"error,omitempty"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

type streamEvent struct {
	Type           string      `json:"type"`
	SequenceNumber int         `json:"sequence_number"`
	Generation     *Generation `json:"generation,omitempty"`
	Sequence       *int        `json:"sequence,omitempty"`
	Token          string      `json:"token,omitempty"`
}
