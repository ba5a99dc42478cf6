package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdRunNow    CommandType = "run_now"
	CmdRunSource CommandType = "run_source"
	CmdPause     CommandType = "pause"
	CmdResume    CommandType = "resume"
)

// Command is an operational command queued by the CLI for the daemon.
type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	Source   string `json:"source,omitempty"`
	Category string `json:"category,omitempty"`
}
