// Package multicast models outbound multi-destination delivery: a multicast
// fans out to destinations, each delivery is a transmission made of packets.
package multicast

import "encoding/json"

type TransmissionState string

const (
	TransmissionPending TransmissionState = "Pending"
	TransmissionSuccess TransmissionState = "Success"
	TransmissionFailure TransmissionState = "Failure"
	TransmissionPartial TransmissionState = "Partial"
	TransmissionRetry   TransmissionState = "Retry"
)

type PacketState string

const (
	PacketPending PacketState = "Pending"
	PacketSuccess PacketState = "Success"
	PacketFailure PacketState = "Failure"
	PacketRetry   PacketState = "Retry"
)

type Status struct {
	Message string `json:"message,omitempty"`
}

type Packet struct {
	Name   string      `json:"name"`
	State  PacketState `json:"state"`
	Status *Status     `json:"status,omitempty"`
}

type Transmission struct {
	ID            string            `json:"id,omitempty"`
	ParentID      string            `json:"parentId"`
	DestinationID string            `json:"destinationId,omitempty"`
	State         TransmissionState `json:"state"`
	Packets       []Packet          `json:"packets,omitempty"`
	Status        *Status           `json:"status,omitempty"`
}

// Key identifies the transmission within its multicast.
func (t Transmission) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.DestinationID
}

// Destination types with a lazily resolved display name.
const DestinationSite = "site"

type Destination struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type Multicast struct {
	ID            string          `json:"id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Destinations  []Destination   `json:"destinations"`
	Transmissions []Transmission  `json:"transmissions"`

	// placeholder marks an entry built from transmission updates that
	// arrived before the multicast itself.
	placeholder bool
}

// Placeholder reports whether only transmission updates are known so far.
func (m Multicast) Placeholder() bool { return m.placeholder }

// DidFail reports a definitive failure: some transmission is in Failure.
// Partial and Retry do not count.
func DidFail(m Multicast) bool {
	for _, t := range m.Transmissions {
		if t.State == TransmissionFailure {
			return true
		}
	}
	return false
}

// IsPartial reports a soft failure: nothing failed outright but some
// transmission was only partially delivered.
func IsPartial(m Multicast) bool {
	if DidFail(m) {
		return false
	}
	for _, t := range m.Transmissions {
		if t.State == TransmissionPartial {
			return true
		}
	}
	return false
}
