package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	controlTypeHello    = "peer.hello"
	controlTypeHelloAck = "peer.hello.ack"

	// ProtocolVersion must match between client and server.
	ProtocolVersion = "edgewire/1"

	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"

	maxControlLine = 16 * 1024
)

var (
	ErrInvalidHello        = errors.New("transport: invalid hello")
	ErrInvalidHelloAck     = errors.New("transport: invalid hello ack")
	ErrHelloRejected       = errors.New("transport: hello rejected")
	ErrControlLineTooLarge = errors.New("transport: control message too large")
)

// Hello is the client->server session-start payload.
type Hello struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	MaxUnit int    `json:"max_unit"`
}

// MinUnit is the smallest frame unit either side of a stream may announce.
const MinUnit = 16

func (h Hello) Validate() error {
	if strings.TrimSpace(h.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidHello)
	}
	if strings.TrimSpace(h.Version) == "" {
		return fmt.Errorf("%w: missing version", ErrInvalidHello)
	}
	if h.MaxUnit <= 0 {
		return fmt.Errorf("%w: missing max_unit", ErrInvalidHello)
	}
	if h.MaxUnit < MinUnit {
		return fmt.Errorf("%w: max_unit %d below %d", ErrInvalidHello, h.MaxUnit, MinUnit)
	}
	return nil
}

// HelloAck is the server->client response. PeerID is the id assigned to the
// client for the rest of the session.
type HelloAck struct {
	Status      string `json:"status"`
	PeerID      PeerID `json:"peer_id"`
	Message     string `json:"message"`
	MaxUnit     int    `json:"max_unit"`
	TimestampMS uint64 `json:"timestamp_ms"`
}

func (a HelloAck) Validate() error {
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid status", ErrInvalidHelloAck)
	}
	if status == AckStatusAccepted && (a.PeerID < minClientPeer || a.PeerID > maxClientPeer) {
		return fmt.Errorf("%w: peer_id %d out of range", ErrInvalidHelloAck, a.PeerID)
	}
	if a.TimestampMS == 0 {
		return fmt.Errorf("%w: missing timestamp_ms", ErrInvalidHelloAck)
	}
	return nil
}

type controlEnvelope struct {
	Type  string    `json:"type"`
	Hello *Hello    `json:"hello,omitempty"`
	Ack   *HelloAck `json:"hello_ack,omitempty"`
}

func WriteHello(w io.Writer, h Hello) error {
	if err := h.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{Type: controlTypeHello, Hello: &h})
}

func ReadHello(r *bufio.Reader) (Hello, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return Hello{}, err
	}
	if env.Type != controlTypeHello || env.Hello == nil {
		return Hello{}, fmt.Errorf("%w: unexpected control type", ErrInvalidHello)
	}
	if err := env.Hello.Validate(); err != nil {
		return Hello{}, err
	}
	return *env.Hello, nil
}

func WriteHelloAck(w io.Writer, ack HelloAck) error {
	if err := ack.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{Type: controlTypeHelloAck, Ack: &ack})
}

func ReadHelloAck(r *bufio.Reader) (HelloAck, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return HelloAck{}, err
	}
	if env.Type != controlTypeHelloAck || env.Ack == nil {
		return HelloAck{}, fmt.Errorf("%w: unexpected control type", ErrInvalidHelloAck)
	}
	if err := env.Ack.Validate(); err != nil {
		return HelloAck{}, err
	}
	return *env.Ack, nil
}

func writeControlEnvelope(w io.Writer, env controlEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}

func readControlEnvelope(r *bufio.Reader) (controlEnvelope, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return controlEnvelope{}, err
	}
	if len(line) > maxControlLine {
		return controlEnvelope{}, ErrControlLineTooLarge
	}
	var env controlEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return controlEnvelope{}, err
	}
	return env, nil
}
