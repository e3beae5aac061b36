// Package apply owns the live resolver configuration slot. It validates a
// candidate configuration out of band, installs it atomically by renaming
// staged files over the live ones and triggers a hot reload on the resolver's
// control channel. A candidate that fails validation is never installed, so
// rollback means the live files are simply left untouched.
package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fwellner/unbound-admin/internal/unbound"
)

// ErrBusy is returned by TryApply when an apply is already in flight.
var ErrBusy = errors.New("an apply is already in progress")

type (
	// The Checker type validates a configuration file, returning the
	// validator's diagnostic output verbatim when the file is rejected.
	Checker interface {
		Check(ctx context.Context, path string) (ok bool, output string, err error)
	}

	// The Reloader type tells the running resolver to pick up the installed
	// configuration.
	Reloader interface {
		Reload(ctx context.Context) error
	}

	// The Outcome type names the terminal state of one apply attempt.
	Outcome string

	// The Result type is the outcome of one apply attempt. Detail carries the
	// validator diagnostic on rejection or the reload error on a degraded
	// apply.
	Result struct {
		Outcome Outcome `json:"outcome"`
		Detail  string  `json:"detail,omitempty"`
	}

	// The Controller type serializes all applies behind a single-flight lock
	// and drives one candidate through validate, install and reload.
	Controller struct {
		mu       sync.Mutex
		paths    unbound.Paths
		checker  Checker
		reloader Reloader
		logger   *slog.Logger
	}
)

const (
	// OutcomeApplied means the candidate was validated, installed and the
	// resolver confirmed the reload.
	OutcomeApplied Outcome = "applied"
	// OutcomeRejected means the validator refused the candidate and the live
	// configuration was left untouched.
	OutcomeRejected Outcome = "rejected"
	// OutcomeReloadFailed means the candidate is installed on disk but the
	// resolver may still be serving the previous configuration from memory.
	// This is a degraded state, distinct from rejection.
	OutcomeReloadFailed Outcome = "reload_failed"
)

// New returns a Controller managing the live files named by paths.
func New(paths unbound.Paths, checker Checker, reloader Reloader, logger *slog.Logger) *Controller {
	return &Controller{
		paths:    paths,
		checker:  checker,
		reloader: reloader,
		logger:   logger,
	}
}

// Apply drives the candidate through validation, installation and reload.
// Concurrent callers are serialized, each apply runs to completion before the
// next is considered. A Result with OutcomeRejected is not an error: the
// caller receives the validator's reason and the live configuration is
// unchanged.
func (c *Controller) Apply(ctx context.Context, candidate Candidate) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.apply(ctx, candidate)
}

// TryApply behaves like Apply but returns ErrBusy instead of waiting when
// another apply is in flight.
func (c *Controller) TryApply(ctx context.Context, candidate Candidate) (Result, error) {
	if !c.mu.TryLock() {
		return Result{}, ErrBusy
	}
	defer c.mu.Unlock()

	return c.apply(ctx, candidate)
}

func (c *Controller) apply(ctx context.Context, candidate Candidate) (Result, error) {
	staged := c.paths.Staged()

	// Stage the full candidate next to the live files. Nothing reads these
	// paths, so plain writes are fine: atomicity comes from the final rename.
	stage := map[string]string{
		staged.Conf:         candidate.CheckMain,
		staged.Blocklist:    candidate.Blocklist,
		staged.LocalRecords: candidate.LocalRecords,
	}

	for path, content := range stage {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			c.discardStaged(staged)
			return Result{}, fmt.Errorf("failed to stage candidate configuration: %w", err)
		}
	}

	ok, output, err := c.checker.Check(ctx, staged.Conf)
	if err != nil {
		c.discardStaged(staged)
		return Result{}, fmt.Errorf("failed to validate candidate configuration: %w", err)
	}

	if !ok {
		c.discardStaged(staged)
		c.logger.With("diagnostic", output).Warn("candidate configuration rejected")
		applies.WithLabelValues(string(OutcomeRejected)).Inc()
		return Result{Outcome: OutcomeRejected, Detail: output}, nil
	}

	// The staged main document was rendered against the staged fragment paths
	// so the validator sees the candidate as a whole. Swap in the live-path
	// rendering before installing.
	if err = os.WriteFile(staged.Conf, []byte(candidate.Main), 0o644); err != nil {
		c.discardStaged(staged)
		return Result{}, fmt.Errorf("failed to stage candidate configuration: %w", err)
	}

	// The fragments go first and the main document last, so the conf swap is
	// the commit point. A rename failing midway leaves a mixed tree on disk,
	// name exactly what was already replaced so the operator can recover.
	renames := [][2]string{
		{staged.Blocklist, c.paths.Blocklist},
		{staged.LocalRecords, c.paths.LocalRecords},
		{staged.Conf, c.paths.Conf},
	}

	var installed []string
	for _, r := range renames {
		if err = os.Rename(r[0], r[1]); err != nil {
			replaced := "none"
			if len(installed) > 0 {
				replaced = strings.Join(installed, ", ")
			}

			c.discardStaged(staged)
			c.logger.With("error", err, "installed", installed).Error("configuration install failed part way")
			return Result{}, fmt.Errorf("failed to install candidate configuration (already replaced: %s): %w",
				replaced, err)
		}

		installed = append(installed, r[1])
	}

	if err = c.reloader.Reload(ctx); err != nil {
		// On-disk and in-memory state have diverged. Surface it loudly rather
		// than pretending the apply succeeded.
		c.logger.With("error", err).Error("configuration installed but resolver reload failed")
		applies.WithLabelValues(string(OutcomeReloadFailed)).Inc()
		return Result{Outcome: OutcomeReloadFailed, Detail: err.Error()}, nil
	}

	c.logger.Info("configuration applied")
	applies.WithLabelValues(string(OutcomeApplied)).Inc()
	return Result{Outcome: OutcomeApplied}, nil
}

func (c *Controller) discardStaged(staged unbound.Paths) {
	for _, path := range []string{staged.Conf, staged.Blocklist, staged.LocalRecords} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.With("error", err, "path", path).Warn("failed to remove staged file")
		}
	}
}
