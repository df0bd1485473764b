// Package session persists the per-task iteration event log. Each run
// writes one JSONL file: a header line, one line per event, and a
// footer with the terminal state.
package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openkoi/openkoi/internal/task"
)

// Status constants for sessions.
const (
	StatusRunning   = "running"
	StatusComplete  = "complete"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Event types for the session log.
const (
	EventTaskStarted  = "task_started"
	EventArtifact     = "artifact"   // execution produced output
	EventEvaluation   = "evaluation" // aggregated scores and findings
	EventDecision     = "decision"   // sealed iteration decision
	EventTaskFinished = "task_finished"
)

// Session is the forensic record of one task run.
type Session struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	Events      []Event   `json:"events"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	seqCounter uint64
	mu         sync.Mutex
}

// Event is a single entry in the session log.
type Event struct {
	SeqID     uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Iteration  int     `json:"iteration,omitempty"`
	Content    string  `json:"content,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Decision   string  `json:"decision,omitempty"`
	Findings   int     `json:"findings,omitempty"`
	TokensIn   int     `json:"tokens_in,omitempty"`
	TokensOut  int     `json:"tokens_out,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// AddEvent appends an event with automatic sequencing.
func (s *Session) AddEvent(event Event) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.SeqID = atomic.AddUint64(&s.seqCounter, 1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.Events = append(s.Events, event)
	s.UpdatedAt = time.Now()
	return event.SeqID
}

// Store is the interface for session persistence.
type Store interface {
	Save(sess *Session) error
	Load(id string) (*Session, error)
}

// Manager creates, loads and updates sessions through a store.
type Manager struct {
	store Store
	mu    sync.Mutex
}

// NewManager creates a session manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Create starts a session for the given task.
func (m *Manager) Create(t *task.Task) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	sess := &Session{
		ID:          uuid.New().String(),
		TaskID:      t.ID,
		Description: t.Description,
		Status:      StatusRunning,
		Events:      []Event{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	sess.AddEvent(Event{Type: EventTaskStarted, Content: t.Description})

	if err := m.store.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	return m.store.Load(id)
}

// Update saves changes to a session.
func (m *Manager) Update(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess.UpdatedAt = time.Now()
	return m.store.Save(sess)
}

// JSONL record types for the streaming format.
const (
	RecordTypeHeader = "header"
	RecordTypeEvent  = "event"
	RecordTypeFooter = "footer"
)

// JSONLRecord is a wrapper for JSONL lines with type discrimination.
type JSONLRecord struct {
	RecordType string `json:"_type"`

	// Header fields (when _type == "header")
	ID          string    `json:"id,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`

	// Event fields (when _type == "event")
	*Event `json:",omitempty"`

	// Footer fields (when _type == "footer")
	Status    string    `json:"status,omitempty"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// FileStore implements Store on the filesystem, one JSONL file per
// session.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-based store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Save persists a session. The file is written to a temp path and
// renamed into place so a crash mid-write never leaves a truncated log.
func (s *FileStore) Save(sess *Session) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	path := filepath.Join(s.dir, sess.ID+".jsonl")
	tmp, err := os.CreateTemp(s.dir, sess.ID+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.writeAll(tmp, sess); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FileStore) writeAll(f *os.File, sess *Session) error {
	header := JSONLRecord{
		RecordType:  RecordTypeHeader,
		ID:          sess.ID,
		TaskID:      sess.TaskID,
		Description: sess.Description,
		CreatedAt:   sess.CreatedAt,
	}
	if err := writeLine(f, header); err != nil {
		return err
	}

	for _, evt := range sess.Events {
		evt := evt
		if err := writeLine(f, JSONLRecord{RecordType: RecordTypeEvent, Event: &evt}); err != nil {
			return err
		}
	}

	footer := JSONLRecord{
		RecordType: RecordTypeFooter,
		Status:     sess.Status,
		Result:     sess.Result,
		Error:      sess.Error,
		UpdatedAt:  sess.UpdatedAt,
	}
	return writeLine(f, footer)
}

func writeLine(f *os.File, record JSONLRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	_, err = f.WriteString("\n")
	return err
}

// Load reads a session from disk.
func (s *FileStore) Load(id string) (*Session, error) {
	f, err := os.Open(filepath.Join(s.dir, id+".jsonl"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sess := &Session{Events: []Event{}}

	// bufio.Reader instead of Scanner: no line length limit.
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("error reading session log: %w", err)
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			if parseErr := parseLine(trimmed, sess); parseErr != nil {
				return nil, parseErr
			}
		}
		if err == io.EOF {
			break
		}
	}

	if len(sess.Events) > 0 {
		sess.seqCounter = sess.Events[len(sess.Events)-1].SeqID
	}
	return sess, nil
}

func parseLine(line []byte, sess *Session) error {
	var record JSONLRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return fmt.Errorf("failed to parse session line: %w", err)
	}

	switch record.RecordType {
	case RecordTypeHeader:
		sess.ID = record.ID
		sess.TaskID = record.TaskID
		sess.Description = record.Description
		sess.CreatedAt = record.CreatedAt
	case RecordTypeEvent:
		if record.Event != nil {
			sess.Events = append(sess.Events, *record.Event)
		}
	case RecordTypeFooter:
		sess.Status = record.Status
		sess.Result = record.Result
		sess.Error = record.Error
		sess.UpdatedAt = record.UpdatedAt
	}
	return nil
}

// Recorder streams engine cycles and results into a session log. It
// satisfies the engine's recorder contract without the engine knowing
// about sessions.
type Recorder struct {
	manager *Manager

	mu       sync.Mutex
	sessions map[string]*Session // task ID -> live session
}

// NewRecorder creates a recorder on top of a session manager.
func NewRecorder(m *Manager) *Recorder {
	return &Recorder{manager: m, sessions: make(map[string]*Session)}
}

func (r *Recorder) session(t *task.Task) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[t.ID]; ok {
		return sess, nil
	}
	sess, err := r.manager.Create(t)
	if err != nil {
		return nil, err
	}
	r.sessions[t.ID] = sess
	return sess, nil
}

// RecordCycle appends the iteration's artifact, evaluation and decision
// events and saves the log.
func (r *Recorder) RecordCycle(ctx context.Context, t *task.Task, c *task.IterationCycle) error {
	sess, err := r.session(t)
	if err != nil {
		return err
	}

	if c.Artifact != nil {
		sess.AddEvent(Event{
			Type:      EventArtifact,
			Iteration: c.Index,
			Content:   c.Artifact.Content,
			TokensIn:  c.Artifact.Usage.Input,
			TokensOut: c.Artifact.Usage.Output,
		})
	}
	if c.Evaluation != nil {
		sess.AddEvent(Event{
			Type:      EventEvaluation,
			Iteration: c.Index,
			Score:     c.Evaluation.Score,
			Findings:  len(c.Evaluation.Findings),
			Content:   c.Evaluation.Suggestion,
		})
	}
	sess.AddEvent(Event{
		Type:       EventDecision,
		Iteration:  c.Index,
		Decision:   string(c.Decision),
		Score:      c.Score(),
		DurationMs: c.Duration.Milliseconds(),
	})
	return r.manager.Update(sess)
}

// RecordResult closes the session with the terminal state.
func (r *Recorder) RecordResult(ctx context.Context, t *task.Task, res *task.Result) error {
	sess, err := r.session(t)
	if err != nil {
		return err
	}

	sess.AddEvent(Event{
		Type:       EventTaskFinished,
		Decision:   string(res.Decision),
		Score:      res.FinalScore,
		DurationMs: res.Elapsed.Milliseconds(),
		Error:      res.Err,
	})

	switch res.Decision {
	case task.DecisionFailed:
		sess.Status = StatusFailed
	case task.DecisionCancelled:
		sess.Status = StatusCancelled
	default:
		sess.Status = StatusComplete
	}
	sess.Result = res.Output
	sess.Error = res.Err

	r.mu.Lock()
	delete(r.sessions, t.ID)
	r.mu.Unlock()
	return r.manager.Update(sess)
}
