// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session keeps per-conversation state between chat requests.
//
// A session has:
//   - A unique identifier
//   - A key-value state store
//   - The turn history of the conversation
//   - At most one pending confirmation for a destructive request
//
// Sessions live in memory and expire after a period without use.
package session

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrStateKeyNotExist is returned when a state key doesn't exist.
var ErrStateKeyNotExist = errors.New("state key does not exist")

// ErrSessionNotFound is returned when a session doesn't exist or expired.
var ErrSessionNotFound = errors.New("session not found")

// Turn is one message of the conversation.
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PendingConfirmation is a destructive request waiting for the user's
// answer. Payload carries whatever the caller needs to resubmit it.
type PendingConfirmation struct {
	Message   string    `json:"message"`
	Keyword   string    `json:"keyword"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the state of one conversation. It is safe for concurrent use.
type Session struct {
	id string

	mu             sync.RWMutex
	state          map[string]any
	turns          []Turn
	pending        *PendingConfirmation
	bypass         bool
	createdAt      time.Time
	lastUpdateTime time.Time
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		id:             id,
		state:          make(map[string]any),
		createdAt:      now,
		lastUpdateTime: now,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) LastUpdateTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdateTime
}

func (s *Session) touch() {
	s.lastUpdateTime = time.Now()
}

func (s *Session) Get(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.state[key]
	if !ok {
		return nil, ErrStateKeyNotExist
	}
	return val, nil
}

func (s *Session) Set(key string, val any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = val
	s.touch()
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, key)
}

// All iterates the state in no particular order.
func (s *Session) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for k, v := range s.state {
			if !yield(k, v) {
				return
			}
		}
	}
}

// AddTurn appends a message to the history.
func (s *Session) AddTurn(role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{Role: role, Text: text, Time: time.Now()})
	s.touch()
}

// Turns returns up to n of the most recent turns, oldest first. n <= 0
// returns all of them.
func (s *Session) Turns(n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && len(s.turns) > n {
		start = len(s.turns) - n
	}
	return append([]Turn(nil), s.turns[start:]...)
}

// SetPending records a request awaiting confirmation, replacing any
// earlier one.
func (s *Session) SetPending(p PendingConfirmation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.pending = &p
	s.touch()
}

// Pending returns the pending confirmation, if any.
func (s *Session) Pending() (PendingConfirmation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return PendingConfirmation{}, false
	}
	return *s.pending, true
}

// TakePending clears and returns the pending confirmation.
func (s *Session) TakePending() (PendingConfirmation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return PendingConfirmation{}, false
	}
	p := *s.pending
	s.pending = nil
	s.touch()
	return p, true
}

// GrantBypass lets the next ConsumeBypass call succeed once.
func (s *Session) GrantBypass() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bypass = true
}

// ConsumeBypass reports whether a bypass was granted and revokes it.
func (s *Session) ConsumeBypass() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.bypass
	s.bypass = false
	return ok
}

// Service manages session lifecycle.
type Service interface {
	// Get retrieves a live session.
	Get(ctx context.Context, id string) (*Session, error)

	// GetOrCreate returns the session with id, creating it when missing or
	// expired. An empty id always creates a session with a fresh uuid.
	GetOrCreate(ctx context.Context, id string) (*Session, error)

	// List returns live session ids, sorted.
	List(ctx context.Context) ([]string, error)

	// Delete removes a session.
	Delete(ctx context.Context, id string) error
}

// MemoryService is an in-memory Service with idle expiry.
type MemoryService struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// InMemoryService returns a session service whose sessions expire after
// ttl without updates. ttl <= 0 disables expiry.
func InMemoryService(ttl time.Duration) *MemoryService {
	return &MemoryService{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

func (s *MemoryService) expired(sess *Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.LastUpdateTime()) > s.ttl
}

func (s *MemoryService) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || s.expired(sess, s.now()) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *MemoryService) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id == "" {
		id = uuid.NewString()
	} else if sess, ok := s.sessions[id]; ok && !s.expired(sess, now) {
		return sess, nil
	}

	sess := newSession(id, now)
	s.sessions[id] = sess
	return sess, nil
}

func (s *MemoryService) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	ids := make([]string, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if !s.expired(sess, now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (s *MemoryService) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps every interval until ctx ends.
func (s *MemoryService) StartJanitor(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

var _ Service = (*MemoryService)(nil)
