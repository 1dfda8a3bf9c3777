package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/huahua9185/dofbot-chess/internal/obslog"
	"go.uber.org/zap"
)

var errPoolClosed = errors.New("engine pool closed")

const bucketCapacity = 2

// bucket holds idle sessions configured for one skill level.
type bucket struct {
	mu   sync.Mutex
	idle []*session
	live int
}

// Pool hands out warm engine sessions keyed by skill level. Sessions for the
// same level are reused across games after a ucinewgame reset.
type Pool struct {
	binaryPath string

	mu      sync.Mutex
	buckets map[int]*bucket
	closed  bool
}

func NewPool(binaryPath string) *Pool {
	return &Pool{
		binaryPath: binaryPath,
		buckets:    make(map[int]*bucket),
	}
}

func (p *Pool) bucketFor(skill int) (*bucket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errPoolClosed
	}
	b, ok := p.buckets[skill]
	if !ok {
		b = &bucket{}
		p.buckets[skill] = b
	}
	return b, nil
}

// Acquire returns a ready session for the level, reusing an idle one when
// available. The caller must hand it back with Release or Discard.
func (p *Pool) Acquire(ctx context.Context, lv Level) (*session, error) {
	b, err := p.bucketFor(lv.SkillLevel)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if n := len(b.idle); n > 0 {
		s := b.idle[n-1]
		b.idle = b.idle[:n-1]
		b.mu.Unlock()
		if err := s.newGame(ctx); err != nil {
			obslog.L().Warn("engine_session_reset_failed",
				zap.Int("skill", lv.SkillLevel), zap.Error(err))
			s.close()
			b.mu.Lock()
			b.live--
			b.mu.Unlock()
			return p.Acquire(ctx, lv)
		}
		return s, nil
	}
	b.live++
	b.mu.Unlock()

	s, err := newSession(ctx, p.binaryPath, Options{
		Threads:    1,
		HashMB:     64,
		SkillLevel: lv.SkillLevel,
	})
	if err != nil {
		b.mu.Lock()
		b.live--
		b.mu.Unlock()
		return nil, fmt.Errorf("spawn engine session: %w", err)
	}
	return s, nil
}

// Release parks a healthy session for reuse; surplus sessions are closed.
func (p *Pool) Release(lv Level, s *session) {
	b, err := p.bucketFor(lv.SkillLevel)
	if err != nil {
		s.close()
		return
	}
	b.mu.Lock()
	if len(b.idle) < bucketCapacity {
		b.idle = append(b.idle, s)
		b.mu.Unlock()
		return
	}
	b.live--
	b.mu.Unlock()
	s.close()
}

// Discard drops a session whose process is no longer trusted.
func (p *Pool) Discard(lv Level, s *session) {
	s.close()
	b, err := p.bucketFor(lv.SkillLevel)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.live--
	b.mu.Unlock()
}

func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	buckets := p.buckets
	p.buckets = nil
	p.mu.Unlock()

	for _, b := range buckets {
		b.mu.Lock()
		for _, s := range b.idle {
			s.close()
		}
		b.idle = nil
		b.mu.Unlock()
	}
}
