package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdPause      CommandType = "pause"
	CmdResume     CommandType = "resume"
	CmdStop       CommandType = "stop"
	CmdTrackAll   CommandType = "track_all"
	CmdTrackRoute CommandType = "track_route"
	CmdInitRoutes CommandType = "init_routes"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
	Result      string          `json:"result" db:"result"`
}

type CommandParams struct {
	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
}
