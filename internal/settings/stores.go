package settings

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/davidsbond/x/set"
)

var (
	// ErrDuplicate is returned when adding an entry that already exists in a
	// store with set semantics.
	ErrDuplicate = errors.New("entry already exists")
	// ErrNotFound is returned when removing an entry by an index that does not
	// exist.
	ErrNotFound = errors.New("no such entry")
)

type (
	// The Record type is a hostname to IPv4 address mapping served
	// authoritatively by the resolver.
	Record struct {
		Hostname string `json:"hostname"`
		IP       string `json:"ip"`
	}

	// The SourceStatus type describes the outcome of the most recent refresh of
	// a single blocklist source.
	SourceStatus struct {
		Domains     int       `json:"domains"`
		LastRefresh time.Time `json:"last_refresh"`
		Error       string    `json:"error,omitempty"`
	}

	// The Sources type persists the set of configured blocklist source URLs.
	Sources struct {
		mu     sync.Mutex
		path   string
		logger *slog.Logger
	}

	// The Whitelist type persists the set of domains exempted from blocking.
	Whitelist struct {
		mu     sync.Mutex
		path   string
		logger *slog.Logger
	}

	// The Records type persists the ordered list of local DNS records.
	Records struct {
		mu     sync.Mutex
		path   string
		logger *slog.Logger
	}

	// The Status type persists per-source refresh status keyed by URL.
	Status struct {
		mu     sync.Mutex
		path   string
		logger *slog.Logger
	}
)

// NewSources returns a Sources store persisting to the given path.
func NewSources(path string, logger *slog.Logger) *Sources {
	return &Sources{path: path, logger: logger}
}

// List returns the configured source URLs in insertion order.
func (s *Sources) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return readJSON(s.logger, s.path, []string{})
}

// Add appends a source URL. Duplicates are rejected with ErrDuplicate.
func (s *Sources) Add(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls, err := readJSON(s.logger, s.path, []string{})
	if err != nil {
		return err
	}

	for _, existing := range urls {
		if existing == url {
			return ErrDuplicate
		}
	}

	return writeJSON(s.path, append(urls, url))
}

// Remove deletes the source at the given index, returning the removed URL.
func (s *Sources) Remove(index int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls, err := readJSON(s.logger, s.path, []string{})
	if err != nil {
		return "", err
	}

	if index < 0 || index >= len(urls) {
		return "", ErrNotFound
	}

	removed := urls[index]
	if err = writeJSON(s.path, append(urls[:index], urls[index+1:]...)); err != nil {
		return "", err
	}

	return removed, nil
}

// NewWhitelist returns a Whitelist store persisting to the given path.
func NewWhitelist(path string, logger *slog.Logger) *Whitelist {
	return &Whitelist{path: path, logger: logger}
}

// List returns the whitelisted domains in insertion order.
func (w *Whitelist) List() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return readJSON(w.logger, w.path, []string{})
}

// Set returns the whitelist as a set for exact-match membership checks.
func (w *Whitelist) Set() (*set.Set[string], error) {
	domains, err := w.List()
	if err != nil {
		return nil, err
	}

	entries := set.New[string]()
	for _, domain := range domains {
		entries.Put(strings.ToLower(domain))
	}

	return entries, nil
}

// Add stores a domain, lowercased. Duplicates are rejected with ErrDuplicate.
func (w *Whitelist) Add(domain string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	domain = strings.ToLower(strings.TrimSpace(domain))

	domains, err := readJSON(w.logger, w.path, []string{})
	if err != nil {
		return err
	}

	for _, existing := range domains {
		if existing == domain {
			return ErrDuplicate
		}
	}

	return writeJSON(w.path, append(domains, domain))
}

// Remove deletes the domain at the given index, returning the removed domain.
func (w *Whitelist) Remove(index int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	domains, err := readJSON(w.logger, w.path, []string{})
	if err != nil {
		return "", err
	}

	if index < 0 || index >= len(domains) {
		return "", ErrNotFound
	}

	removed := domains[index]
	if err = writeJSON(w.path, append(domains[:index], domains[index+1:]...)); err != nil {
		return "", err
	}

	return removed, nil
}

// NewRecords returns a Records store persisting to the given path.
func NewRecords(path string, logger *slog.Logger) *Records {
	return &Records{path: path, logger: logger}
}

// List returns the local records in insertion order.
func (r *Records) List() ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return readJSON(r.logger, r.path, []Record{})
}

// Contains reports whether a record with the given hostname exists.
func (r *Records) Contains(hostname string) (bool, error) {
	records, err := r.List()
	if err != nil {
		return false, err
	}

	for _, rec := range records {
		if rec.Hostname == hostname {
			return true, nil
		}
	}

	return false, nil
}

// Replace persists the full record list wholesale. Callers compute the desired
// list, apply it to the live resolver and only then replace the stored copy so
// the store never diverges from what is running.
func (r *Records) Replace(records []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeJSON(r.path, records)
}

// NewStatus returns a Status store persisting to the given path.
func NewStatus(path string, logger *slog.Logger) *Status {
	return &Status{path: path, logger: logger}
}

// All returns the per-source refresh status keyed by URL.
func (s *Status) All() (map[string]SourceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return readJSON(s.logger, s.path, map[string]SourceStatus{})
}

// Put replaces the full status map.
func (s *Status) Put(status map[string]SourceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return writeJSON(s.path, status)
}

// Forget drops the status entry for a removed source URL.
func (s *Status) Forget(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, err := readJSON(s.logger, s.path, map[string]SourceStatus{})
	if err != nil {
		return err
	}

	delete(status, url)
	return writeJSON(s.path, status)
}

// readJSON loads a persisted document, falling back to def when the file is
// missing. A corrupt document is treated the same as a missing one so a bad
// write never wedges the stores, the corruption is logged instead.
func readJSON[T any](logger *slog.Logger, path string, def T) (T, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return def, nil
	}

	if err != nil {
		return def, err
	}

	out := def
	if err = json.Unmarshal(data, &out); err != nil {
		logger.With("error", err, "path", path).Error("document is corrupt, starting empty")
		return def, nil
	}

	return out, nil
}
