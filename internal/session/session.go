// Package session scopes a loaded corpus to one user session. The engine
// receives the session explicitly instead of reading a process-wide cache.
package session

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"meetmatch/internal/domain"
	"meetmatch/internal/logging"
	"meetmatch/internal/metrics"
	"meetmatch/internal/profile"
)

// ErrClosed is returned when a closed session is used.
var ErrClosed = errors.New("session closed")

// Session owns the profile store built from one corpus load.
type Session struct {
	ID        uuid.UUID
	Store     *profile.Store
	Report    profile.LoadReport
	CreatedAt time.Time

	closed atomic.Bool
}

// New loads records into a fresh session. Malformed records are skipped
// and reported in Report.
func New(records []domain.RawRecord) *Session {
	store, report := profile.Load(records)
	s := &Session{
		ID:        uuid.New(),
		Store:     store,
		Report:    report,
		CreatedAt: time.Now(),
	}
	metrics.SkippedRecords.Add(float64(report.Skipped))
	ev := logging.Info()
	if report.Skipped > 0 {
		ev = logging.Warn().Errs("skipped_records", report.Errors)
	}
	ev.Str("session", s.ID.String()).
		Int("total", report.Total).
		Int("loaded", report.Loaded).
		Int("skipped", report.Skipped).
		Msg("corpus loaded")
	return s
}

// Profiles returns the store when the session is still open.
func (s *Session) Profiles() (*profile.Store, error) {
	if s == nil || s.closed.Load() {
		return nil, ErrClosed
	}
	return s.Store, nil
}

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		logging.Debug().Str("session", s.ID.String()).Dur("age", time.Since(s.CreatedAt)).Msg("session closed")
	}
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }
