package api

import (
	"net/http"
	"sort"

	"github.com/fwellner/unbound-admin/internal/unbound"
)

const (
	// How much of the log tail each surface reads. The raw view shows recent
	// activity, the aggregation wants a longer window.
	queryLogTailBytes   = 100 * 1024
	topDomainsTailBytes = 2 * 1024 * 1024

	topDomainsLimit = 25
)

// queryLog returns the most recent entries parsed from the resolver's query
// log. Empty when query logging is disabled or nothing was logged yet.
func (a *API) queryLog(w http.ResponseWriter, r *http.Request) {
	text, err := unbound.TailQueryLog(a.config.QueryLogPath, queryLogTailBytes)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read query log: "+err.Error())
		return
	}

	entries := unbound.ParseQueryLog(text)
	if entries == nil {
		entries = []unbound.QueryLogEntry{}
	}

	respond(w, http.StatusOK, entries)
}

// topDomains aggregates the most queried domains over a longer slice of the
// query log, ordered by query count.
func (a *API) topDomains(w http.ResponseWriter, r *http.Request) {
	text, err := unbound.TailQueryLog(a.config.QueryLogPath, topDomainsTailBytes)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read query log: "+err.Error())
		return
	}

	counts := make(map[string]int)
	for _, entry := range unbound.ParseQueryLog(text) {
		counts[entry.Domain]++
	}

	type domainCount struct {
		Domain string `json:"domain"`
		Count  int    `json:"count"`
	}

	top := make([]domainCount, 0, len(counts))
	for domain, count := range counts {
		top = append(top, domainCount{Domain: domain, Count: count})
	}

	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}

		return top[i].Domain < top[j].Domain
	})

	if len(top) > topDomainsLimit {
		top = top[:topDomainsLimit]
	}

	respond(w, http.StatusOK, top)
}
