package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"outdial-platform/internal/calls"
)

// Exchange is one utterance in the conversation history.
type Exchange struct {
	Speaker    string    `json:"speaker"` // "ai" or "customer"
	Text       string    `json:"text"`
	Emotion    string    `json:"emotion,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SpeakerAI       = "ai"
	SpeakerCustomer = "customer"
)

// State is the ephemeral per-call conversation record. It lives in the
// state store for the duration of the call; the durable copy of each turn
// goes to the call event log.
type State struct {
	CallID         string     `json:"call_id"`
	OrganizationID string     `json:"organization_id"`
	CampaignID     string     `json:"campaign_id"`
	TurnNumber     int        `json:"turn_number"`
	MaxTurns       int        `json:"max_turns"`
	History        []Exchange `json:"history"`

	// Voice is resolved once from the campaign persona.
	Voice string `json:"voice"`

	// Closing marks that the goodbye line is playing; the next playback
	// end hangs up instead of recording.
	Closing bool `json:"closing"`

	// LastIntent is the most recent classified customer intent, used to
	// derive the terminal outcome when the conversation ends plainly.
	LastIntent string `json:"last_intent,omitempty"`

	// Outcome is the conversation's verdict, set when Closing is.
	Outcome calls.Outcome `json:"outcome,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// StateStore holds in-flight conversation state by call id. The
// orchestration logic never knows whether the store is in-process or
// external.
type StateStore interface {
	Get(ctx context.Context, callID string) (State, bool, error)
	Put(ctx context.Context, st State) error
	Delete(ctx context.Context, callID string) error
}

type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (s *MemoryStore) Get(ctx context.Context, callID string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[callID]
	return st, ok, nil
}

func (s *MemoryStore) Put(ctx context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.CallID] = st
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, callID)
	return nil
}

// RedisStore keeps conversation state in Redis with a TTL safety net, so a
// crashed instance does not leak state forever.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func stateKey(callID string) string { return "conversation:" + callID }

func (s *RedisStore) Get(ctx context.Context, callID string) (State, bool, error) {
	raw, err := s.rdb.Get(ctx, stateKey(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("conversation state get: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false, fmt.Errorf("conversation state decode: %w", err)
	}
	return st, true, nil
}

func (s *RedisStore) Put(ctx context.Context, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("conversation state encode: %w", err)
	}
	if err := s.rdb.Set(ctx, stateKey(st.CallID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("conversation state put: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, callID string) error {
	if err := s.rdb.Del(ctx, stateKey(callID)).Err(); err != nil {
		return fmt.Errorf("conversation state delete: %w", err)
	}
	return nil
}
