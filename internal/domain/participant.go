package domain

import "time"

// ConnState is a participant's connection state within a session.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateJoined       ConnState = "joined"
	StateReconnecting ConnState = "reconnecting"
	StateLeft         ConnState = "left"
)

// MediaFlags are a participant's media capability flags.
type MediaFlags struct {
	VideoEnabled  bool `json:"videoEnabled"`
	AudioEnabled  bool `json:"audioEnabled"`
	ScreenSharing bool `json:"screenSharing"`
}

// Participant is one distinct connection in a session, owned by the
// session registry. The identifier comes from the external identity
// collaborator and is trusted for the session's duration.
type Participant struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	State       ConnState  `json:"state"`
	Flags       MediaFlags `json:"flags"`
	JoinedAt    time.Time  `json:"joinedAt"`
	LastSeen    time.Time  `json:"lastSeen"`
}
