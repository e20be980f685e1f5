// Package store coordinates every read and mutation of the shared record
// collection.
//
// A Manager owns the authoritative in-memory collection, its fingerprint, the
// flush bookkeeping and the session tracker. Every public method acquires the
// same mutex, so operations are totally ordered and never observed half done.
// Flushes to the backend run while the mutex is held.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/maruel/linkreview/internal/clock"
	"github.com/maruel/linkreview/internal/records"
	"github.com/maruel/linkreview/internal/session"
	"github.com/maruel/linkreview/internal/storage"
)

// Backend persists the collection.
type Backend interface {
	Load() (records.Collection, error)
	Flush(records.Collection) (*storage.FlushResult, error)
}

// Options configures a Manager. Zero values take defaults.
type Options struct {
	// SaveThreshold is the number of pending mutations that triggers a flush.
	SaveThreshold int
	// StaleAfter is the inactivity after which a session loses its checkout.
	StaleAfter time.Duration
	// ActiveWindow bounds the sessions reported by GetStats.
	ActiveWindow time.Duration
	// ReloadWindow is how long after a replace snapshots ask clients to reload.
	ReloadWindow time.Duration
	Clock        clock.Clock
	// OnFlush is called with the lock held after each successful flush.
	OnFlush func(FlushEvent)
}

func (o *Options) setDefaults() {
	if o.SaveThreshold <= 0 {
		o.SaveThreshold = 3
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 10 * time.Minute
	}
	if o.ActiveWindow <= 0 {
		o.ActiveWindow = 5 * time.Minute
	}
	if o.ReloadWindow <= 0 {
		o.ReloadWindow = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
}

// FlushState is the persistence bookkeeping.
type FlushState struct {
	// Pending counts mutations accepted since the last successful flush.
	Pending        int       `json:"unsaved_changes"`
	LastFlush      time.Time `json:"last_save,omitzero"`
	LastFlushError string    `json:"last_save_error,omitempty"`
	LastFlushSize  int64     `json:"last_save_size,omitempty"`
}

// FlushEvent describes a successful flush.
type FlushEvent struct {
	Trigger string
	Size    int64
	At      time.Time
	// Authors are the users whose mutations the flush persisted, sorted.
	Authors []string
	Pending int
}

// Snapshot is a consistent copy of the collection.
type Snapshot struct {
	Records        records.Collection `json:"data"`
	Fingerprint    string             `json:"version"`
	FingerprintAt  time.Time          `json:"timestamp"`
	Flush          FlushState         `json:"flush"`
	ReloadRequired bool               `json:"reload_required"`
	UploadedAt     time.Time          `json:"uploaded_at,omitzero"`
}

// Version identifies the current content.
type Version struct {
	Fingerprint string    `json:"version"`
	At          time.Time `json:"timestamp"`
}

// UpdateResult is returned by ApplyUpdate.
type UpdateResult struct {
	Fingerprint string `json:"version"`
	Pending     int    `json:"unsaved_changes"`
	Flushed     bool   `json:"saved"`
	FlushError  string `json:"save_error,omitempty"`
}

// ReplaceRequest is the input of ReplaceAll.
type ReplaceRequest struct {
	Records  records.Collection
	Username string
	// ExpectedFingerprint, when set, must match the current fingerprint.
	ExpectedFingerprint string
	// Attribute stamps fixed_by/fixed_at on records whose Status changed.
	Attribute bool
}

// ReplaceResult is returned by ReplaceAll.
type ReplaceResult struct {
	Fingerprint string    `json:"version"`
	At          time.Time `json:"timestamp"`
	Count       int       `json:"count"`
	Persisted   bool      `json:"saved"`
	FlushError  string    `json:"save_error,omitempty"`
}

// FlushReport is returned by ForceFlush.
type FlushReport struct {
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
	Size  int64     `json:"size,omitempty"`
	At    time.Time `json:"at"`
}

// ActiveSession is a user seen within the active window.
type ActiveSession struct {
	Username     string    `json:"username"`
	LastActivity time.Time `json:"last_activity"`
	Checkout     *int      `json:"checkout,omitempty"`
}

// Stats summarizes the collection.
type Stats struct {
	Total          int             `json:"total_records"`
	ByStatus       map[string]int  `json:"by_status"`
	Matching       *int            `json:"matching,omitempty"`
	Flush          FlushState      `json:"flush"`
	Fingerprint    string          `json:"version"`
	ActiveSessions []ActiveSession `json:"active_sessions"`
}

// NextResult is returned by GetNextAvailable. Found is false when no record
// is available.
type NextResult struct {
	Found  bool            `json:"found"`
	Index  int             `json:"index"`
	Record *records.Record `json:"record,omitempty"`
}

type lifecycle int

const (
	stateNew lifecycle = iota
	stateReady
	stateClosed
)

// Manager is the single owner of the collection.
type Manager struct {
	backend Backend
	opts    Options

	mu            sync.Mutex
	state         lifecycle
	records       records.Collection
	fingerprint   string
	fingerprintAt time.Time
	uploadedAt    time.Time
	flush         FlushState
	authors       map[string]struct{}
	sessions      *session.Tracker
}

// New returns a Manager persisting to backend. Call Initialize before use.
func New(backend Backend, opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		backend:  backend,
		opts:     opts,
		authors:  make(map[string]struct{}),
		sessions: session.NewTracker(opts.StaleAfter),
	}
}

// Initialize loads the collection from the backend.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateNew {
		return errors.New("store already initialized")
	}
	c, err := m.backend.Load()
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}
	if c == nil {
		c = records.Collection{}
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}
	m.records = c
	m.flush = FlushState{}
	m.publish()
	m.state = stateReady
	pendingMutations.Set(0)
	slog.Info("Loaded records", "count", len(c), "version", m.fingerprint)
	return nil
}

// Shutdown flushes pending mutations and closes the manager. Later calls to
// any operation return ErrNotInitialized.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateReady {
		return ErrNotInitialized
	}
	var err error
	if m.flush.Pending > 0 {
		err = m.flushLocked(TriggerShutdown)
	}
	m.state = stateClosed
	return err
}

// GetSnapshot returns a deep copy of the collection. A non-empty username
// counts as activity.
func (m *Manager) GetSnapshot(username string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	now := m.opts.Clock.Now()
	if username != "" {
		m.touch(username, now)
	}
	return &Snapshot{
		Records:        m.records.Clone(),
		Fingerprint:    m.fingerprint,
		FingerprintAt:  m.fingerprintAt,
		Flush:          m.flush,
		ReloadRequired: !m.uploadedAt.IsZero() && now.Sub(m.uploadedAt) < m.opts.ReloadWindow,
		UploadedAt:     m.uploadedAt,
	}, nil
}

// Version returns the current fingerprint.
func (m *Manager) Version() (*Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	return &Version{Fingerprint: m.fingerprint, At: m.fingerprintAt}, nil
}

// ApplyUpdate sets fields of the record at index.
//
// fixed_by and fixed_at in updates are ignored; they are stamped with username
// and the current time when Status changes. The remaining keys are applied in
// sorted order. Values that cannot be encoded as JSON are rejected with
// records.ErrUnencodable before anything changes. Reaching the save threshold flushes synchronously; a flush
// failure is reported in the result, never as an error.
func (m *Manager) ApplyUpdate(index int, updates map[string]any, username string) (*UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(m.records) {
		return nil, invalidIndex(index, len(m.records))
	}
	upd := records.FromMap(updates)
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	upd = upd.Clone()
	now := m.opts.Clock.Now()
	r := m.records[index]
	if r == nil {
		r = &records.Record{}
		m.records[index] = r
	}
	before := r.Status()
	for _, k := range upd.Keys() {
		if k == records.FieldFixedBy || k == records.FieldFixedAt {
			continue
		}
		v, _ := upd.Get(k)
		r.Set(k, v)
	}
	if !records.ValuesEqual(before, r.Status()) {
		stamp(r, username, now)
	}
	m.publish()
	m.accept(username, now)
	mutationsTotal.WithLabelValues("update").Inc()

	res := &UpdateResult{}
	if m.flush.Pending >= m.opts.SaveThreshold {
		if err := m.flushLocked(TriggerThreshold); err != nil {
			res.FlushError = err.Error()
		} else {
			res.Flushed = true
		}
	}
	res.Fingerprint = m.fingerprint
	res.Pending = m.flush.Pending
	return res, nil
}

// ReplaceAll swaps the whole collection and flushes immediately.
//
// A non-empty ExpectedFingerprint that differs from the current one yields a
// *ConflictError and leaves everything untouched, as does a record holding a
// value that cannot be encoded. A flush failure does not
// undo the replace.
func (m *Manager) ReplaceAll(req ReplaceRequest) (*ReplaceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	if err := req.Records.Validate(); err != nil {
		return nil, err
	}
	if req.ExpectedFingerprint != "" && req.ExpectedFingerprint != m.fingerprint {
		conflictsTotal.Inc()
		return nil, &ConflictError{Current: m.fingerprint}
	}
	now := m.opts.Clock.Now()
	next := req.Records.Clone()
	if req.Attribute && req.Username != "" {
		for i, r := range next {
			if i >= len(m.records) {
				break
			}
			var prev any
			if m.records[i] != nil {
				prev = m.records[i].Status()
			}
			if !records.ValuesEqual(prev, r.Status()) {
				stamp(r, req.Username, now)
			}
		}
	}
	m.records = next
	m.publish()
	m.uploadedAt = now
	m.sessions.ReleaseFrom(len(next))
	m.accept(req.Username, now)
	mutationsTotal.WithLabelValues("replace").Inc()

	res := &ReplaceResult{Count: len(next)}
	if err := m.flushLocked(TriggerReplace); err != nil {
		res.FlushError = err.Error()
	} else {
		res.Persisted = true
	}
	res.Fingerprint = m.fingerprint
	res.At = m.fingerprintAt
	return res, nil
}

// ForceFlush writes the collection regardless of pending mutations.
func (m *Manager) ForceFlush() (*FlushReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	rep := &FlushReport{}
	if err := m.flushLocked(TriggerForce); err != nil {
		rep.Error = err.Error()
	} else {
		rep.OK = true
		rep.Size = m.flush.LastFlushSize
	}
	rep.At = m.opts.Clock.Now()
	return rep, nil
}

// GetStats counts records by Status. When filterStatus is non-empty, Matching
// holds the number of records with that Status.
func (m *Manager) GetStats(filterStatus string) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	st := &Stats{
		Total:          len(m.records),
		ByStatus:       make(map[string]int),
		Flush:          m.flush,
		Fingerprint:    m.fingerprint,
		ActiveSessions: []ActiveSession{},
	}
	matching := 0
	for _, r := range m.records {
		s := ""
		if r != nil {
			s = r.StatusString()
		}
		st.ByStatus[s]++
		if s == filterStatus {
			matching++
		}
	}
	if filterStatus != "" {
		st.Matching = &matching
	}
	for _, s := range m.sessions.Active(m.opts.Clock.Now(), m.opts.ActiveWindow) {
		a := ActiveSession{Username: s.Username, LastActivity: s.LastActivity}
		if s.HasCheckout() {
			a.Checkout = &s.Checkout
		}
		st.ActiveSessions = append(st.ActiveSessions, a)
	}
	return st, nil
}

// GetNextAvailable checks out the next record after index `after` that
// matches filter and is not held by another user. A negative after starts at
// the first record.
func (m *Manager) GetNextAvailable(username string, after int, filter records.Filter) (*NextResult, error) {
	if username == "" {
		return nil, ErrUsernameRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	accept := func(i int) bool {
		r := m.records[i]
		if r == nil {
			r = &records.Record{}
		}
		return filter.Match(r)
	}
	idx, ok := m.sessions.NextAvailable(username, after, len(m.records), accept, m.opts.Clock.Now())
	sessionsGauge.Set(float64(m.sessions.Len()))
	if !ok {
		checkoutsTotal.WithLabelValues("none").Inc()
		return &NextResult{Index: session.NoCheckout}, nil
	}
	checkoutsTotal.WithLabelValues("found").Inc()
	var r *records.Record
	if m.records[idx] != nil {
		r = m.records[idx].Clone()
	} else {
		r = &records.Record{}
	}
	return &NextResult{Found: true, Index: idx, Record: r}, nil
}

// RecordActivity marks username as active.
func (m *Manager) RecordActivity(username string) error {
	if username == "" {
		return ErrUsernameRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return err
	}
	m.touch(username, m.opts.Clock.Now())
	return nil
}

// ReleaseCheckout drops the record held by username.
func (m *Manager) ReleaseCheckout(username string) error {
	if username == "" {
		return ErrUsernameRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return err
	}
	m.touch(username, m.opts.Clock.Now())
	m.sessions.Release(username)
	return nil
}

func (m *Manager) ready() error {
	if m.state != stateReady {
		return ErrNotInitialized
	}
	return nil
}

// publish recomputes the fingerprint. Must be called with mu held after every
// change to records.
func (m *Manager) publish() {
	m.fingerprint = records.Fingerprint(m.records)
	m.fingerprintAt = m.opts.Clock.Now()
	recordsGauge.Set(float64(len(m.records)))
}

// accept counts a mutation by username.
func (m *Manager) accept(username string, now time.Time) {
	m.flush.Pending++
	pendingMutations.Set(float64(m.flush.Pending))
	if username != "" {
		m.authors[username] = struct{}{}
		m.touch(username, now)
	}
}

// touch records activity for username.
func (m *Manager) touch(username string, now time.Time) {
	m.sessions.RecordActivity(username, now)
	sessionsGauge.Set(float64(m.sessions.Len()))
}

// flushLocked writes the collection and updates the flush state. Must be
// called with mu held.
func (m *Manager) flushLocked(trigger string) error {
	start := time.Now()
	res, err := m.backend.Flush(m.records)
	flushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.flush.LastFlushError = err.Error()
		flushTotal.WithLabelValues(trigger, "error").Inc()
		slog.Warn("Failed to save records", "trigger", trigger, "pending", m.flush.Pending, "err", err)
		return err
	}
	flushTotal.WithLabelValues(trigger, "ok").Inc()
	ev := FlushEvent{
		Trigger: trigger,
		At:      m.opts.Clock.Now(),
		Authors: slices.Sorted(maps.Keys(m.authors)),
		Pending: m.flush.Pending,
	}
	if res != nil {
		ev.Size = res.Size
		flushBytes.Observe(float64(res.Size))
	}
	m.flush = FlushState{LastFlush: ev.At, LastFlushSize: ev.Size}
	clear(m.authors)
	pendingMutations.Set(0)
	slog.Info("Saved records", "trigger", trigger, "count", len(m.records), "size", humanize.Bytes(uint64(max(ev.Size, 0))), "mutations", ev.Pending)
	if m.opts.OnFlush != nil {
		m.opts.OnFlush(ev)
	}
	return nil
}

// stamp records who changed the Status of r and when.
func stamp(r *records.Record, username string, now time.Time) {
	r.Set(records.FieldFixedBy, username)
	r.Set(records.FieldFixedAt, now.UTC().Format(time.RFC3339))
}
