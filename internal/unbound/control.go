package unbound

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	checkTimeout   = 10 * time.Second
	controlTimeout = 5 * time.Second
)

type (
	// The CheckConf type runs the resolver's configuration validator against a
	// candidate file. The check has no side effects on the live service.
	CheckConf struct {
		// Path to the validator binary, usually "unbound-checkconf".
		Binary string
	}

	// The Control type issues administrative commands to the running resolver
	// over its local control channel. The channel is authenticated via the
	// local-only credentials referenced by the generated configuration.
	Control struct {
		// Path to the control binary, usually "unbound-control".
		Binary string
	}
)

// Check validates the configuration file at path. A rejection is not an
// error: ok is false and output carries the validator's diagnostic text
// verbatim. An error means the validator itself could not be run.
func (c CheckConf) Check(ctx context.Context, path string) (ok bool, output string, err error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, c.Binary, path).CombinedOutput()
	output = strings.TrimSpace(string(out))

	if err == nil {
		return true, output, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, output, nil
	}

	return false, output, fmt.Errorf("failed to run validator: %w", err)
}

// Reload tells the resolver to reload its configuration.
func (c Control) Reload(ctx context.Context) error {
	_, err := c.run(ctx, "reload")
	return err
}

// Stats returns the resolver's cumulative statistics without resetting them.
func (c Control) Stats(ctx context.Context) (map[string]string, error) {
	out, err := c.run(ctx, "stats_noreset")
	if err != nil {
		return nil, err
	}

	return ParseStats(out), nil
}

// Flush removes all cache entries for the given name.
func (c Control) Flush(ctx context.Context, name string) error {
	_, err := c.run(ctx, "flush", name)
	return err
}

// FlushZone removes all cache entries at or below the given name. Flushing
// the root zone empties the entire cache.
func (c Control) FlushZone(ctx context.Context, name string) error {
	_, err := c.run(ctx, "flush_zone", name)
	return err
}

func (c Control) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, c.Binary, args...).CombinedOutput()
	output := strings.TrimSpace(string(out))

	if err != nil {
		return output, fmt.Errorf("%s %s: %w: %s", c.Binary, args[0], err, output)
	}

	return output, nil
}

// ParseStats turns the control channel's key=value statistics output into a
// map.
func ParseStats(raw string) map[string]string {
	stats := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		stats[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return stats
}
