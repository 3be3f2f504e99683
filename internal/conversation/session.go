package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/briefsmith/internal/brief"
)

var (
	// ErrStale is returned when a newer turn superseded this one.
	ErrStale    = errors.New("turn superseded by a newer request")
	ErrNotFound = errors.New("conversation not found")
)

// Snapshot is everything a session holds between turns.
type Snapshot struct {
	State      State
	Transcript []Message
	// Brief and BriefRaw are the latest extracted brief, nil before generation.
	Brief          *brief.Brief
	BriefRaw       json.RawMessage
	ProjectID      uuid.UUID
	ProjectVersion int
	// Epoch counts restarts. Messages from earlier epochs stay persisted but
	// are not replayed to the oracle.
	Epoch int
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.State = s.State.clone()
	out.Transcript = slices.Clone(s.Transcript)
	out.BriefRaw = slices.Clone(s.BriefRaw)
	if s.Brief != nil {
		b := *s.Brief
		out.Brief = &b
	}
	return out
}

// Session is one conversation's in-memory state. Turns run one at a time;
// beginning a turn cancels any turn still in flight and any result that
// turn later tries to commit is discarded.
type Session struct {
	ID    uuid.UUID
	Owner string

	sem chan struct{}

	mu     sync.Mutex
	data   Snapshot
	seq    uint64
	cancel context.CancelFunc
	// sealed is the seq of a turn that can no longer be superseded, 0 if none.
	sealed   uint64
	lastUsed time.Time
}

func NewSession(id uuid.UUID, owner string, snap Snapshot) *Session {
	if snap.State.Answers == nil {
		snap.State.Answers = map[string]string{}
	}
	return &Session{
		ID:    id,
		Owner: owner,
		sem:   make(chan struct{}, 1),
		data:  snap.clone(),
	}
}

// Snapshot returns a copy of the committed state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.clone()
}

// Begin supersedes any in-flight turn and waits for it to release the
// session. The returned turn must be finished with Done.
func (s *Session) Begin(ctx context.Context) (*Turn, error) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	if s.cancel != nil {
		s.cancel()
	}
	tctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-tctx.Done():
		cancel()
		if s.superseded(seq) {
			return nil, ErrStale
		}
		s.mu.Lock()
		if s.seq == seq {
			s.cancel = nil
		}
		s.mu.Unlock()
		return nil, tctx.Err()
	}

	if s.superseded(seq) {
		<-s.sem
		cancel()
		return nil, ErrStale
	}
	return &Turn{session: s, seq: seq, ctx: tctx, cancel: cancel}, nil
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

// idle reports whether the session was last used before cutoff and no turn
// holds or is waiting for it.
func (s *Session) idle(cutoff time.Time) bool {
	if len(s.sem) > 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel == nil && s.sealed == 0 && !s.lastUsed.After(cutoff)
}

func (s *Session) superseded(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq != seq
}

// Turn is the exclusive right to advance a session.
type Turn struct {
	session *Session
	seq     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// Context is cancelled when a newer turn begins.
func (t *Turn) Context() context.Context {
	return t.ctx
}

func (t *Turn) Snapshot() Snapshot {
	return t.session.Snapshot()
}

// Seal marks the turn as committing. It fails with ErrStale if a newer turn
// has already begun; afterwards newer turns wait for this one instead of
// cancelling it, and Commit cannot fail.
func (t *Turn) Seal() error {
	s := t.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != t.seq {
		return ErrStale
	}
	s.sealed = t.seq
	// Begin cancels through s.cancel; the sealed turn keeps its own.
	s.cancel = nil
	return nil
}

// Commit replaces the session state unless a newer turn has begun and this
// turn was not sealed.
func (t *Turn) Commit(next Snapshot) error {
	s := t.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != t.seq && s.sealed != t.seq {
		return ErrStale
	}
	s.data = next.clone()
	return nil
}

// Done releases the session. Safe to call more than once.
func (t *Turn) Done() {
	t.once.Do(func() {
		s := t.session
		t.cancel()
		s.mu.Lock()
		if s.seq == t.seq {
			s.cancel = nil
		}
		if s.sealed == t.seq {
			s.sealed = 0
		}
		s.mu.Unlock()
		<-s.sem
	})
}
