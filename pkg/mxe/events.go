// Package mxe consumes the confidential computation network's event stream.
// Score results arrive asynchronously over a websocket; callers subscribe by
// computation offset and receive the matching event on a channel.
package mxe

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	ReconnectInterval = 10 * time.Second
	readLimit         = 512 * 1024
	readDeadline      = 60 * time.Second
	pingInterval      = 50 * time.Second
)

// ScoreEvent is one scoreCalculated notification from the network.
type ScoreEvent struct {
	ComputationOffset uint64
	Wallet            string
	Score             uint16
	RiskLevel         string // "low", "medium" or "high"
}

// wire shape of an event frame
type eventFrame struct {
	Type              string          `json:"type"`
	ComputationOffset json.Number     `json:"computation_offset"`
	Wallet            string          `json:"wallet"`
	Score             uint16          `json:"score"`
	RiskLevel         json.RawMessage `json:"risk_level"`
}

// Stream maintains the websocket connection and dispatches events to
// per-offset subscribers.
type Stream struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn
	subs map[uint64]chan ScoreEvent
}

func NewStream(url string) *Stream {
	return &Stream{
		url:  url,
		subs: make(map[uint64]chan ScoreEvent),
	}
}

// Subscribe registers interest in one computation offset. The returned
// cancel func must be called exactly once on every exit path; an orphaned
// subscription is a leak.
func (s *Stream) Subscribe(offset uint64) (<-chan ScoreEvent, func()) {
	ch := make(chan ScoreEvent, 1)

	s.mu.Lock()
	s.subs[offset] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, offset)
		s.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of live subscriptions.
func (s *Stream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Start runs the connect/read loop until the context is cancelled,
// reconnecting on failure.
func (s *Stream) Start(ctx context.Context) {
	log.Info().Str("url", s.url).Msg("Starting MXE event stream...")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := s.run(ctx); err != nil {
				log.Error().Err(err).Msg("MXE event stream error, reconnecting...")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(ReconnectInterval):
				continue
			}
		}
	}
}

func (s *Stream) run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	// Ping loop keeps the connection alive through idle periods
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				if s.conn == nil {
					s.mu.Unlock()
					return
				}
				err := s.conn.WriteMessage(websocket.PingMessage, []byte{})
				s.mu.Unlock()
				if err != nil {
					log.Warn().Err(err).Msg("Failed to send ping")
					return
				}
			}
		}
	}()

	log.Info().Msg("MXE event stream connected")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			var frame eventFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return fmt.Errorf("read error: %w", err)
			}
			s.handleFrame(frame)
		}
	}
}

func (s *Stream) handleFrame(frame eventFrame) {
	if frame.Type != "scoreCalculated" {
		return
	}

	offset, err := strconv.ParseUint(frame.ComputationOffset.String(), 10, 64)
	if err != nil {
		log.Warn().Str("offset", frame.ComputationOffset.String()).Msg("Event with unparseable computation offset")
		return
	}

	risk, err := decodeRiskTag(frame.RiskLevel)
	if err != nil {
		log.Warn().Err(err).Uint64("offset", offset).Msg("Event with malformed risk level")
		return
	}

	event := ScoreEvent{
		ComputationOffset: offset,
		Wallet:            frame.Wallet,
		Score:             frame.Score,
		RiskLevel:         risk,
	}
	s.Dispatch(event)
}

// Dispatch delivers an event to its subscriber, if any. Unmatched events are
// dropped: offsets are never reused, so an event without a subscriber belongs
// to a request that already terminated.
func (s *Stream) Dispatch(event ScoreEvent) {
	s.mu.Lock()
	ch, ok := s.subs[event.ComputationOffset]
	s.mu.Unlock()

	if !ok {
		log.Debug().Uint64("offset", event.ComputationOffset).Msg("Score event without subscriber dropped")
		return
	}

	select {
	case ch <- event:
	default:
		// Channel is buffered for one event per offset; a second event for
		// the same offset is a duplicate.
	}
}

// decodeRiskTag parses the tagged union form {"low":{}} | {"medium":{}} |
// {"high":{}}; exactly one tag must be set.
func decodeRiskTag(raw json.RawMessage) (string, error) {
	var tags map[string]json.RawMessage
	if err := json.Unmarshal(raw, &tags); err != nil {
		return "", err
	}
	if len(tags) != 1 {
		return "", fmt.Errorf("expected exactly one risk tag, got %d", len(tags))
	}
	for tag := range tags {
		switch tag {
		case "low", "medium", "high":
			return tag, nil
		default:
			return "", fmt.Errorf("unknown risk tag %q", tag)
		}
	}
	return "", fmt.Errorf("empty risk tag")
}
