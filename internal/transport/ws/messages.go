package ws

import "encoding/json"

// envelope is the wire frame every connection exchanges.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	msgHello        = "hello"         // client -> server, first frame on a connection
	msgReport       = "report"        // client -> server, ClientReport for a Job
	msgAck          = "ack"           // client -> server, reply to startClients/stopClients
	msgStartJob     = "start_job"     // server -> load/monitor client
	msgStopJob      = "stop_job"      // server -> load/monitor client
	msgStartClients = "start_clients" // server -> client manager
	msgStopClients  = "stop_clients"  // server -> client manager
)

// helloPayload is the self-reported identity a connection sends before
// it is admitted into the registry.
type helloPayload struct {
	ClientID   string `json:"clientId"`
	Kind       string `json:"kind"`
	Address    string `json:"address"`
	MaxClients int    `json:"maxClients,omitempty"`
}

// reportPayload is a client's interim or terminal report for a Job.
type reportPayload struct {
	JobID string `json:"jobId"`
	Kind  string `json:"kind"`
	Stats []byte `json:"stats,omitempty"`
	Error string `json:"error,omitempty"`
}

// ackPayload replies to a startClients/stopClients request identified
// by RequestID, the synchronous accept/reject clientmanager.Dispatcher
// waits on.
type ackPayload struct {
	RequestID string `json:"requestId"`
	Accepted  bool   `json:"accepted"`
	Error     string `json:"error,omitempty"`
}

type startJobPayload struct {
	JobID      string            `json:"jobId"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type stopJobPayload struct {
	JobID string `json:"jobId"`
}

type startClientsPayload struct {
	RequestID string `json:"requestId"`
	Count     int    `json:"count"`
}

type stopClientsPayload struct {
	RequestID string `json:"requestId"`
	Count     int    `json:"count"`
}
