package hub

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/technosupport/ts-roadwatch/internal/devices"
	"github.com/technosupport/ts-roadwatch/internal/incidents"
)

// Inbound frame tags. Anything else is a protocol error answered on the
// offending connection only.
const (
	FrameRegister  = "register"
	FrameHeartbeat = "heartbeat"
	FrameIncident  = "incident"
	FramePing      = "ping"
)

// Outbound frame tags.
const (
	FrameSync          = "sync"
	FrameAck           = "ack"
	FrameDevicesUpdate = "devices_update"
	FramePong          = "pong"
	FrameError         = "error"
)

var ErrUnknownFrame = errors.New("unknown frame type")

// envelope is the wire shape of every frame: a type discriminator plus a
// type-specific payload.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RegisterPayload classifies the connection. Role admin or monitor means
// viewer; any other (or absent) role means field device. The permissive
// default is kept from the reference protocol: the role set is not closed.
type RegisterPayload struct {
	ID       string            `json:"id"`
	Role     string            `json:"role,omitempty"`
	Name     string            `json:"name,omitempty"`
	Type     string            `json:"type,omitempty"`
	Battery  *int              `json:"battery,omitempty"`
	Location *devices.Location `json:"location,omitempty"`
}

// Info projects the registration onto the registry's authoritative profile.
func (p RegisterPayload) Info() devices.Info {
	return devices.Info{
		Name:     p.Name,
		Type:     p.Type,
		Battery:  p.Battery,
		Location: p.Location,
	}
}

// IsViewer reports whether the declared role makes this a viewer/admin
// connection rather than a field device.
func (p RegisterPayload) IsViewer() bool {
	return p.Role == "admin" || p.Role == "monitor"
}

// HeartbeatPayload is the typed partial update field units push periodically.
type HeartbeatPayload struct {
	ID       string            `json:"id"`
	Name     *string           `json:"name,omitempty"`
	Type     *string           `json:"type,omitempty"`
	Battery  *int              `json:"battery,omitempty"`
	Location *devices.Location `json:"location,omitempty"`
	Status   *string           `json:"status,omitempty"`
}

// Update projects the heartbeat onto the registry's merge shape.
func (p HeartbeatPayload) Update() devices.Update {
	return devices.Update{
		Name:     p.Name,
		Type:     p.Type,
		Battery:  p.Battery,
		Location: p.Location,
		Status:   p.Status,
	}
}

// inboundFrame is the closed variant of decoded frames. Exactly one of the
// pointers is set, matching the Type tag.
type inboundFrame struct {
	Type      string
	Register  *RegisterPayload
	Heartbeat *HeartbeatPayload
	Incident  *incidents.Payload
}

// decodeFrame parses raw bytes into the closed frame variant. Any structural
// mismatch is a protocol error; the caller answers it with an error frame.
func decodeFrame(raw []byte) (*inboundFrame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid frame: %v", err)
	}

	f := &inboundFrame{Type: env.Type}
	switch env.Type {
	case FrameRegister:
		var p RegisterPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid register payload: %v", err)
		}
		if p.ID == "" {
			return nil, errors.New("register payload missing id")
		}
		f.Register = &p
	case FrameHeartbeat:
		var p HeartbeatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid heartbeat payload: %v", err)
		}
		if p.ID == "" {
			return nil, errors.New("heartbeat payload missing id")
		}
		f.Heartbeat = &p
	case FrameIncident:
		var p incidents.Payload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid incident payload: %v", err)
		}
		f.Incident = &p
	case FramePing:
		// No payload.
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, env.Type)
	}
	return f, nil
}

// encodeFrame serializes an outbound frame once; the dispatcher fans the
// bytes out to every matching connection. Outbound payloads are hub-owned
// types, so the marshal cannot fail on well-formed state.
func encodeFrame(frameType string, payload any) []byte {
	body, _ := json.Marshal(payload)
	data, _ := json.Marshal(envelope{Type: frameType, Payload: body})
	return data
}
