package session

import (
	"encoding/json"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transport"
)

type Status string

const (
	StatusInitial       Status = "initial"
	StatusAuthenticated Status = "authenticated"
	StatusIdled         Status = "idled"
	StatusTerminated    Status = "terminated"
)

type Permission struct {
	ClassID string   `json:"classId"`
	Actions []string `json:"actions,omitempty"`
}

type User struct {
	UserID string   `json:"userId"`
	Name   string   `json:"name,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// Payload is the session document returned by the session endpoint and
// carried by Session/IDLE envelopes.
type Payload struct {
	Permissions []Permission `json:"permissions"`
	User        *User        `json:"user,omitempty"`
	State       string       `json:"state,omitempty"`
}

type Credentials struct {
	UserName string `json:"userName"`
	Token    string `json:"token"`
}

type PasswordChange struct {
	UserName    string `json:"userName"`
	Password    string `json:"password"`
	NewPassword string `json:"newPassword"`
}

type State struct {
	Status          Status
	Permissions     []Permission
	PermissionMap   PermissionMap
	User            *User
	Attempts        int
	Socket          transport.ConnectionState
	SocketError     error
	ConnectionError error

	// Raw is the last session document, sent as the push channel handshake.
	Raw json.RawMessage
}

func Initial() State {
	return State{Status: StatusInitial, PermissionMap: PermissionMap{}}
}

// Authenticated reports normal operation: a session exists and is not idle.
func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

// Reauthenticating is the derived mode where the user must re-enter
// credentials for an idled session.
func (s State) Reauthenticating() bool {
	return s.Status == StatusIdled
}

func (s State) RequiresPasswordChange() bool {
	return RequiresPasswordChange(s.Permissions)
}
