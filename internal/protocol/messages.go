package protocol

import "voxelbuild.ai/internal/geom"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Status          Status `json:"status"`
	MinY            int    `json:"min_y"`
	MaxY            int    `json:"max_y"`
}

type Status struct {
	Ready  bool `json:"ready"`
	Paused bool `json:"paused"`
}

// REQ (client -> server). Responses carry the same ID; a server may answer
// out of order.
type Request struct {
	Type     string      `json:"type"`
	ID       uint64      `json:"id"`
	Op       string      `json:"op"`
	Pos      *geom.Vec3i `json:"pos,omitempty"`
	Command  string      `json:"command,omitempty"`
	Commands []string    `json:"commands,omitempty"`
}

// RESP (server -> client)
type Response struct {
	Type   string  `json:"type"`
	ID     uint64  `json:"id"`
	Status *Status `json:"status,omitempty"`
	// State is the full block state at Pos for read; empty when the
	// position is not observable.
	State      string     `json:"state,omitempty"`
	Observable bool       `json:"observable,omitempty"`
	Executed   int        `json:"executed,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
