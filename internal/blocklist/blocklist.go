// Package blocklist fetches the configured blocklist sources, parses them as
// hosts-format listings and merges them into a single set of blocked domains
// with whitelisted entries removed. A failing source never aborts a refresh,
// it is reported alongside the merged result instead.
package blocklist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/davidsbond/x/set"
	"golang.org/x/sync/errgroup"
)

const (
	// Hard timeout for a single source fetch. A hung feed cannot hold up the
	// rest of the refresh beyond this.
	fetchTimeout = 30 * time.Second

	// Upper bound on concurrent source fetches within one refresh.
	maxConcurrentFetches = 4

	userAgent = "unbound-admin/1.0"
)

// Infrastructure hostnames that must never be blocked, regardless of what a
// feed lists.
var skipDomains = []string{
	"localhost", "localhost.localdomain", "local", "broadcasthost",
	"ip6-localhost", "ip6-loopback", "ip6-localnet",
	"ip6-mcastprefix", "ip6-allnodes", "ip6-allrouters", "ip6-allhosts",
}

type (
	// The Pipeline type downloads and merges blocklist sources.
	Pipeline struct {
		client *http.Client
		logger *slog.Logger
	}

	// The SourceFailure type records a single source that could not be fetched
	// during a refresh.
	SourceFailure struct {
		URL    string `json:"url"`
		Reason string `json:"error"`
	}

	// The Result type is the outcome of one refresh: the merged, sorted set of
	// blocked domains, per-source accepted domain counts and any per-source
	// failures.
	Result struct {
		Domains  []string
		Counts   map[string]int
		Failures []SourceFailure
	}
)

// New returns a Pipeline using the given logger.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		client: &http.Client{Timeout: fetchTimeout},
		logger: logger,
	}
}

// Refresh fetches every source, parses it and returns the union of all
// accepted domains minus the whitelist, sorted. Running it twice with
// identical inputs and unchanged source content yields identical output.
func (p *Pipeline) Refresh(ctx context.Context, sources []string, whitelist *set.Set[string]) (*Result, error) {
	perSource := make([][]string, len(sources))
	failures := make([]*SourceFailure, len(sources))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentFetches)

	for i, url := range sources {
		group.Go(func() error {
			domains, err := p.fetch(ctx, url)
			if err != nil {
				p.logger.With("error", err, "url", url).Warn("failed to fetch blocklist source")
				failures[i] = &SourceFailure{URL: url, Reason: err.Error()}
				sourceFailures.Inc()
				return nil
			}

			perSource[i] = domains
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	// Single-threaded reduction over the fetched results.
	merged := set.New[string]()
	result := &Result{Counts: make(map[string]int)}

	for i, url := range sources {
		if failures[i] != nil {
			result.Failures = append(result.Failures, *failures[i])
			continue
		}

		result.Counts[url] = len(perSource[i])
		for _, domain := range perSource[i] {
			if whitelist != nil && whitelist.Contains(domain) {
				continue
			}

			if merged.Contains(domain) {
				continue
			}

			merged.Put(domain)
			result.Domains = append(result.Domains, domain)
		}
	}

	sort.Strings(result.Domains)

	refreshes.Inc()
	domainsBlocked.Set(float64(len(result.Domains)))

	return result, nil
}

func (p *Pipeline) fetch(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	return parseHosts(resp.Body)
}

// parseHosts reads a hosts-format listing and returns the blocked domains it
// declares. Only lines whose address field is exactly 0.0.0.0 or 127.0.0.1
// count as blocking entries, malformed lines are dropped silently.
func parseHosts(r io.Reader) ([]string, error) {
	var domains []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		// Strip trailing comments as well as full-comment lines.
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		if fields[0] != "0.0.0.0" && fields[0] != "127.0.0.1" {
			continue
		}

		domain := strings.ToLower(fields[1])
		if domain == "" || isSkipDomain(domain) {
			continue
		}

		domains = append(domains, domain)
	}

	return domains, scanner.Err()
}

func isSkipDomain(domain string) bool {
	for _, skip := range skipDomains {
		if domain == skip {
			return true
		}
	}

	return false
}

// Fragment renders the merged domains as the resolver's blocklist include
// file, one refusal directive per domain.
func Fragment(domains []string) string {
	var sb strings.Builder
	for _, domain := range domains {
		fmt.Fprintf(&sb, "local-zone: %q always_refuse\n", domain+".")
	}

	return sb.String()
}
