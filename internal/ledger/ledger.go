// Package ledger implements the append-only session ledger. Every resource
// the engine creates or retires is recorded here before success is
// acknowledged anywhere else, which is what makes rollback possible.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Resource types recorded in ledger entries.
const (
	TypeInstance               = "instance"
	TypeLaunchTemplate         = "launch-template"
	TypeAutoScalingGroup       = "auto-scaling-group"
	TypeSecurityGroup          = "security-group"
	TypeKeyPair                = "key-pair"
	TypeS3Bucket               = "s3-bucket"
	TypeEKSCluster             = "eks-cluster"
	TypeIAMUser                = "iam-user"
	TypeIAMGroup               = "iam-group"
	TypeEventRule              = "event-rule"
	TypeEventBus               = "event-bus"
	TypeRedshiftCluster        = "redshift-cluster"
	TypeRedshiftSubnetGroup    = "redshift-subnet-group"
	TypeRedshiftParameterGroup = "redshift-parameter-group"
	TypeStateMachine           = "state-machine"
	TypeNotebookInstance       = "notebook-instance"
	TypeSageMakerEndpoint      = "sagemaker-endpoint"
	TypeBroker                 = "mq-broker"
	TypeFileSystem             = "fsx-filesystem"
	TypeGateway                = "storage-gateway"
)

// ResourceRef identifies one AWS resource touched by a session.
type ResourceRef struct {
	ResourceID   string            `json:"resource-id"`
	ResourceType string            `json:"resource-type"`
	AccountName  string            `json:"account-name"`
	AccountID    string            `json:"account-id"`
	Region       string            `json:"region"`
	CreatedAt    time.Time         `json:"created-at"`
	SessionID    string            `json:"session-id"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Event classifies a ledger delta.
type Event string

const (
	EventCreated      Event = "created"
	EventRetired      Event = "retired"
	EventFailed       Event = "failed"
	EventFailedRetire Event = "failed-retire"
	// EventRulesCleared records intermediate security-group rule clearing;
	// the cleared rule count is in the ref metadata.
	EventRulesCleared Event = "rules-cleared"
)

// Entry is one appended delta.
type Entry struct {
	Event     Event       `json:"event"`
	Ref       ResourceRef `json:"ref"`
	Timestamp time.Time   `json:"timestamp"`
	ErrorKind string      `json:"error-kind,omitempty"`
	// AlreadyAbsent marks retirements of resources that were gone at
	// delete time.
	AlreadyAbsent bool `json:"already-absent,omitempty"`
}

// Header opens every ledger file.
type Header struct {
	SessionID        string            `json:"session-id"`
	StartedAt        time.Time         `json:"started-at"`
	User             string            `json:"user"`
	DryRun           bool              `json:"dry-run"`
	InvocationConfig map[string]string `json:"invocation-config,omitempty"`
}

// Ledger is a single-writer append-only session record. Appends are totally
// ordered under the mutex and fsynced before returning, so a resource is
// durable before the engine reports it created.
type Ledger struct {
	lg   *zap.Logger
	path string

	mu      sync.Mutex
	f       *os.File
	header  Header
	entries []Entry
}

// Path returns the ledger file path for a session id inside dir.
func Path(dir, sessionID string) string {
	return filepath.Join(dir, "session_"+sessionID+".json")
}

// New creates the ledger file for a session and writes its header.
func New(lg *zap.Logger, dir string, header Header) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	path := Path(dir, header.SessionID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create ledger %q: %w", path, err)
	}
	l := &Ledger{lg: lg, path: path, f: f, header: header}
	d, err := json.Marshal(header)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := l.writeLine(d); err != nil {
		f.Close()
		return nil, err
	}
	lg.Info("created session ledger", zap.String("path", path))
	return l, nil
}

// Append records an entry and waits for durability.
func (l *Ledger) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("ledger %q is closed", l.path)
	}
	d, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := l.writeLine(d); err != nil {
		return err
	}
	l.entries = append(l.entries, e)
	return nil
}

// writeLine appends one line and fsyncs. Callers hold the mutex (except New,
// which has no concurrent access yet).
func (l *Ledger) writeLine(d []byte) error {
	if _, err := l.f.Write(append(d, '\n')); err != nil {
		return err
	}
	return l.f.Sync()
}

// Created appends a created entry for the ref.
func (l *Ledger) Created(ref ResourceRef) error {
	return l.Append(Entry{Event: EventCreated, Ref: ref})
}

// Retired appends a retired entry; alreadyAbsent marks a delete of a
// resource that was gone.
func (l *Ledger) Retired(ref ResourceRef, alreadyAbsent bool) error {
	return l.Append(Entry{Event: EventRetired, Ref: ref, AlreadyAbsent: alreadyAbsent})
}

// Failed appends a failed entry with a classified error kind.
func (l *Ledger) Failed(ref ResourceRef, errorKind string) error {
	return l.Append(Entry{Event: EventFailed, Ref: ref, ErrorKind: errorKind})
}

// Snapshot returns a consistent copy of the header and all entries so far.
func (l *Ledger) Snapshot() (Header, []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return l.header, out
}

// Header returns the session header.
func (l *Ledger) Header() Header {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.header
}

// Close releases the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Load reads a previously written ledger file.
func Load(path string) (Header, []Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	if !sc.Scan() {
		return Header{}, nil, fmt.Errorf("ledger %q is empty", path)
	}
	var header Header
	if err := json.Unmarshal(sc.Bytes(), &header); err != nil {
		return Header{}, nil, fmt.Errorf("parse ledger header %q: %w", path, err)
	}
	var entries []Entry
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return Header{}, nil, fmt.Errorf("parse ledger entry %q: %w", path, err)
		}
		entries = append(entries, e)
	}
	return header, entries, sc.Err()
}

// ListSessions returns the ledger paths in dir, newest session id first.
func ListSessions(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "session_*.json"))
	if err != nil {
		return nil, err
	}
	// session ids embed a UTC timestamp, so lexicographic order is
	// chronological
	for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
		matches[i], matches[j] = matches[j], matches[i]
	}
	return matches, nil
}
