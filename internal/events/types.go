// Package events defines event types and enumerations for the SourceWatch event system.
package events

import (
	"time"

	"github.com/sourcewatch-project/sourcewatch/internal/protocol"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Tracker events
	EventServerStatus    EventType = "server_status"
	EventServerOnline    EventType = "server_online"
	EventServerOffline   EventType = "server_offline"
	EventMasterSweepDone EventType = "master_sweep_done"

	// Notification events
	EventNotifyMQTT EventType = "notify_mqtt"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// ServerState represents the tracked availability of a game server.
type ServerState int

const (
	ServerStateUnknown ServerState = iota
	ServerStateOnline
	ServerStateOffline
)

// serverStateStrings maps ServerState values to their lowercase JSON string representation.
var serverStateStrings = map[ServerState]string{
	ServerStateUnknown: "unknown",
	ServerStateOnline:  "online",
	ServerStateOffline: "offline",
}

// String returns the string representation of ServerState.
func (s ServerState) String() string {
	if str, ok := serverStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes ServerState as a JSON string (e.g. "online").
func (s ServerState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ServerStatusPayload carries the result of one query poll of a tracked server.
type ServerStatusPayload struct {
	Address     string
	Info        *protocol.ServerInfo
	PingMs      int64
	PlayerCount int
	PolledAt    time.Time
}

// ServerTransitionPayload is emitted when a server crosses the online/offline
// threshold in either direction.
type ServerTransitionPayload struct {
	Address  string
	State    ServerState
	Failures int
	At       time.Time
}

// MasterSweepPayload summarizes one completed master-server sweep.
type MasterSweepPayload struct {
	MasterAddr string
	Filter     string
	Servers    []protocol.ServerEndpoint
	Pages      int
	Duration   time.Duration
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
