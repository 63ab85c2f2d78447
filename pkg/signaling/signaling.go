// Package signaling is the Signal Gateway (spec §4.2): an opaque fan-out
// client over the external WebSocket relay described in the external
// interfaces section. It knows nothing about WebRTC SDP semantics beyond
// shuttling envelopes; pkg/transport interprets their contents.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/frostmesh/node/pkg/types"
)

// RetryConfig configures reconnect backoff, mirroring the teacher's
// transport.RetryConfig (pkg/transport/client.go).
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig matches the teacher's default retry settings.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialBackoff:  100 * time.Millisecond,
	MaxBackoff:      5 * time.Second,
	BackoffMultiple: 2.0,
}

// EnvelopeKind tags the payload carried inside a relay "data" field.
type EnvelopeKind string

const (
	EnvelopeOffer     EnvelopeKind = "Offer"
	EnvelopeAnswer    EnvelopeKind = "Answer"
	EnvelopeCandidate EnvelopeKind = "Candidate"
)

// Envelope is an opaque signaling message relayed to a named peer.
type Envelope struct {
	Kind      EnvelopeKind    `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate string          `json:"candidate,omitempty"`
	SDPMid    string          `json:"sdpMid,omitempty"`
	SDPMLine  *uint16         `json:"sdpMLineIndex,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// OnSignal is invoked for every relayed envelope addressed to this device.
type OnSignal func(from types.DeviceId, env Envelope)

// OnDevices is invoked when the relay answers a list_devices request.
type OnDevices func(devices []types.DeviceId)

// clientMessage / relayMessage mirror spec §6's signaling JSON shapes.
type clientMessage struct {
	Type     string          `json:"type"`
	DeviceID types.DeviceId  `json:"device_id,omitempty"`
	To       types.DeviceId  `json:"to,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type relayMessage struct {
	Type    string           `json:"type"`
	Devices []types.DeviceId `json:"devices,omitempty"`
	From    types.DeviceId   `json:"from,omitempty"`
	Data    json.RawMessage  `json:"data,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// DefaultSendRate caps outbound relay writes per Gateway: enough headroom
// for a session broadcast to a large participant set without letting a
// reconnect storm or a runaway caller flood the relay.
const (
	DefaultSendRate  = 50 // messages/sec
	DefaultSendBurst = 20
)

// Gateway is a reconnecting WebSocket client to the signaling relay. It
// never interprets envelope contents; pkg/core wires OnSignal/OnDevices to
// the Connection Manager and the event loop inbox.
type Gateway struct {
	url      string
	deviceID types.DeviceId
	retry    RetryConfig
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	conn    *websocket.Conn
	limiter *rate.Limiter

	OnSignal  OnSignal
	OnDevices OnDevices
}

// NewGateway constructs a Gateway for deviceID against the relay at url.
func NewGateway(url string, deviceID types.DeviceId, logger *zap.Logger) *Gateway {
	return &Gateway{
		url:      url,
		deviceID: deviceID,
		retry:    DefaultRetryConfig,
		logger:   logger.Sugar(),
		limiter:  rate.NewLimiter(rate.Limit(DefaultSendRate), DefaultSendBurst),
	}
}

// Run connects, registers, and reads relay messages until ctx is
// cancelled, reconnecting with exponential backoff on failure.
func (g *Gateway) Run(ctx context.Context) error {
	backoff := g.retry.InitialBackoff
	for attempt := 0; g.retry.MaxAttempts <= 0 || attempt < g.retry.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := g.connectAndServe(ctx); err != nil {
			g.logger.Warnw("signal gateway disconnected", "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * g.retry.BackoffMultiple)
			if backoff > g.retry.MaxBackoff {
				backoff = g.retry.MaxBackoff
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: exhausted %d reconnect attempts", types.ErrRelayUnavailable, g.retry.MaxAttempts)
}

func (g *Gateway) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrRelayUnavailable, err)
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	defer conn.Close()

	if err := g.send(clientMessage{Type: "register", DeviceID: g.deviceID}); err != nil {
		return err
	}

	for {
		var msg relayMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		g.handle(msg)
	}
}

func (g *Gateway) handle(msg relayMessage) {
	switch msg.Type {
	case "devices":
		if g.OnDevices != nil {
			g.OnDevices(msg.Devices)
		}
	case "relay":
		env, err := decodeRelayData(msg.Data)
		if err != nil {
			g.logger.Warnw("dropping malformed relay envelope", "from", msg.From, "error", err)
			return
		}
		if g.OnSignal != nil {
			g.OnSignal(msg.From, env)
		}
	case "error":
		g.logger.Warnw("relay reported error", "error", msg.Error)
	default:
		g.logger.Debugw("dropping unrecognized relay message", "type", msg.Type)
	}
}

// decodeRelayData accepts both historical envelope shapes documented in
// spec §6: a flat {"websocket_msg_type":"WebRTCSignal","Offer":{...}} shape,
// and a nested {"websocket_msg_type":"WebRTCSignal","data":{"type":...}}
// shape.
func decodeRelayData(raw json.RawMessage) (Envelope, error) {
	var flat struct {
		Offer     *struct{ SDP string `json:"sdp"` } `json:"Offer"`
		Answer    *struct{ SDP string `json:"sdp"` } `json:"Answer"`
		Candidate *struct {
			Candidate string  `json:"candidate"`
			SDPMid    string  `json:"sdpMid"`
			SDPMLine  *uint16 `json:"sdpMLineIndex"`
		} `json:"Candidate"`
		Nested *struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &flat); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", types.ErrSignalingMalformed, err)
	}

	switch {
	case flat.Offer != nil:
		return Envelope{Kind: EnvelopeOffer, SDP: flat.Offer.SDP}, nil
	case flat.Answer != nil:
		return Envelope{Kind: EnvelopeAnswer, SDP: flat.Answer.SDP}, nil
	case flat.Candidate != nil:
		return Envelope{
			Kind:      EnvelopeCandidate,
			Candidate: flat.Candidate.Candidate,
			SDPMid:    flat.Candidate.SDPMid,
			SDPMLine:  flat.Candidate.SDPMLine,
		}, nil
	case flat.Nested != nil:
		var env Envelope
		env.Kind = EnvelopeKind(flat.Nested.Type)
		if err := json.Unmarshal(flat.Nested.Data, &env); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", types.ErrSignalingMalformed, err)
		}
		env.Kind = EnvelopeKind(flat.Nested.Type)
		return env, nil
	default:
		return Envelope{}, fmt.Errorf("%w: no recognized envelope shape", types.ErrSignalingMalformed)
	}
}

// Send relays an envelope to `to`, wrapped in the nested
// {"websocket_msg_type":"WebRTCSignal","data":{"type":...,"data":{...}}}
// shape that decodeRelayData accepts.
func (g *Gateway) Send(to types.DeviceId, env Envelope) error {
	payload, err := json.Marshal(map[string]interface{}{
		"websocket_msg_type": "WebRTCSignal",
		"data": map[string]interface{}{
			"type": env.Kind,
			"data": env,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return g.send(clientMessage{Type: "relay", To: to, Data: payload})
}

// ListDevices asks the relay for the current device roster.
func (g *Gateway) ListDevices() error {
	return g.send(clientMessage{Type: "list_devices"})
}

func (g *Gateway) send(msg clientMessage) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", types.ErrRelayUnavailable)
	}
	if err := g.limiter.Wait(context.Background()); err != nil {
		return fmt.Errorf("rate limit outbound relay message: %w", err)
	}
	return conn.WriteJSON(msg)
}
