package apply

import (
	"errors"
	"fmt"
	"os"

	"github.com/fwellner/unbound-admin/internal/settings"
	"github.com/fwellner/unbound-admin/internal/unbound"
)

type (
	// The Candidate type is one complete generated configuration: the main
	// document plus both include fragments. Main is rendered against the live
	// include paths for installation while CheckMain is rendered against the
	// staged paths so validation covers the candidate fragments rather than
	// the live ones.
	Candidate struct {
		Main         string
		CheckMain    string
		Blocklist    string
		LocalRecords string
	}

	// The Builder type assembles candidates. Fragments that are not being
	// changed by the caller are carried over from the live files so every
	// candidate is complete.
	Builder struct {
		paths      unbound.Paths
		customConf string
	}
)

// NewBuilder returns a Builder using paths for the live layout and customConf
// as the user-supplied configuration file used in custom mode.
func NewBuilder(paths unbound.Paths, customConf string) *Builder {
	return &Builder{paths: paths, customConf: customConf}
}

// Build assembles a candidate for the given settings. A nil blocklist or
// localRecords fragment means "unchanged": the current live fragment content
// is carried into the candidate (empty when no live fragment exists yet).
//
// When the settings enable custom mode, the user-supplied file is used
// verbatim as the main document and every other settings field is ignored.
func (b *Builder) Build(s settings.Settings, blocklist, localRecords *string) (Candidate, error) {
	candidate := Candidate{}

	if blocklist != nil {
		candidate.Blocklist = *blocklist
	} else {
		content, err := readIfExists(b.paths.Blocklist)
		if err != nil {
			return Candidate{}, err
		}
		candidate.Blocklist = content
	}

	if localRecords != nil {
		candidate.LocalRecords = *localRecords
	} else {
		content, err := readIfExists(b.paths.LocalRecords)
		if err != nil {
			return Candidate{}, err
		}
		candidate.LocalRecords = content
	}

	if s.CustomConfig {
		content, err := os.ReadFile(b.customConf)
		if err != nil {
			return Candidate{}, fmt.Errorf("custom configuration mode is enabled but the file cannot be read: %w", err)
		}

		candidate.Main = string(content)
		candidate.CheckMain = string(content)
		return candidate, nil
	}

	candidate.Main = unbound.Synthesize(s, b.paths)
	candidate.CheckMain = unbound.Synthesize(s, b.paths.Staged())
	return candidate, nil
}

func readIfExists(path string) (string, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	return string(content), nil
}
