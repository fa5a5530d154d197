package socketiotest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type PacketType int

// Socket.IO v5 packet types carried inside an Engine.IO message.
const (
	PacketConnect PacketType = iota
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketConnectError
	PacketBinaryEvent
	PacketBinaryAck
)

var ErrBinaryUnsupported = errors.New("binary socket.io packets are not supported")

type Packet struct {
	Type      PacketType
	Namespace string
	HasID     bool
	ID        int
	Data      json.RawMessage
}

// Encode renders p as the payload of an Engine.IO message frame, without the
// leading engine type byte.
func (p Packet) Encode() string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(int(p.Type)))
	if p.Namespace != "" && p.Namespace != "/" {
		sb.WriteString(p.Namespace)
		sb.WriteByte(',')
	}
	if p.HasID {
		sb.WriteString(strconv.Itoa(p.ID))
	}
	if len(p.Data) > 0 {
		sb.Write(p.Data)
	}
	return sb.String()
}

func DecodePacket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, errors.New("empty packet")
	}
	if s[0] < '0' || s[0] > '6' {
		return Packet{}, fmt.Errorf("unknown packet type %q", s[0])
	}
	p := Packet{Type: PacketType(s[0] - '0'), Namespace: "/"}
	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		return Packet{}, ErrBinaryUnsupported
	}
	rest := s[1:]

	if strings.HasPrefix(rest, "/") {
		if i := strings.IndexByte(rest, ','); i >= 0 {
			p.Namespace = rest[:i]
			rest = rest[i+1:]
		} else {
			p.Namespace = rest
			rest = ""
		}
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.Atoi(rest[:i])
		if err != nil {
			return Packet{}, fmt.Errorf("decode ack id: %w", err)
		}
		p.HasID = true
		p.ID = id
		rest = rest[i:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return Packet{}, errors.New("packet payload is not valid JSON")
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// EventPayload builds the JSON array ["event", args...].
func EventPayload(event string, args ...any) (json.RawMessage, error) {
	items := make([]any, 0, len(args)+1)
	items = append(items, event)
	items = append(items, args...)
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", event, err)
	}
	return data, nil
}

// SplitEvent splits an event payload into its name and arguments.
func SplitEvent(data json.RawMessage) (string, []json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return "", nil, fmt.Errorf("decode event payload: %w", err)
	}
	if len(items) == 0 {
		return "", nil, errors.New("event payload is empty")
	}
	var name string
	if err := json.Unmarshal(items[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	return name, items[1:], nil
}
