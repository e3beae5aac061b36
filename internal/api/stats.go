package api

import (
	"bufio"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// stats returns resolver statistics from the control channel, augmented with
// derived values the dashboard renders directly.
func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.config.Control.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get stats: "+err.Error())
		return
	}

	totalQueries := statFloat(stats, "total.num.queries")
	cacheHits := statFloat(stats, "total.num.cachehits")
	cacheMisses := statFloat(stats, "total.num.cachemiss")
	uptime := statFloat(stats, "time.up")

	hitRate := 0.0
	if totalQueries > 0 {
		hitRate = cacheHits / totalQueries * 100
	}

	queriesPerSec := 0.0
	if uptime > 0 {
		queriesPerSec = totalQueries / uptime
	}

	rcodes := make(map[string]int)
	qtypes := make(map[string]int)
	memory := make(map[string]int)

	for key, value := range stats {
		switch {
		case strings.HasPrefix(key, "num.answer.rcode."):
			if count := int(parseFloat(value)); count > 0 {
				rcodes[strings.TrimPrefix(key, "num.answer.rcode.")] = count
			}
		case strings.HasPrefix(key, "num.query.type."):
			if count := int(parseFloat(value)); count > 0 {
				qtypes[strings.TrimPrefix(key, "num.query.type.")] = count
			}
		case strings.HasPrefix(key, "mem."):
			memory[strings.TrimPrefix(key, "mem.")] = int(parseFloat(value))
		}
	}

	respond(w, http.StatusOK, map[string]any{
		"total_queries":   int(totalQueries),
		"cache_hits":      int(cacheHits),
		"cache_misses":    int(cacheMisses),
		"cache_hit_rate":  hitRate,
		"blocked_domains": countBlockedDomains(a.config.BlocklistPath),
		"num_threads":     stats["num.threads"],
		"uptime":          stats["time.up"],
		"queries_per_sec": queriesPerSec,
		"prefetch":        int(statFloat(stats, "num.prefetch")),
		"rcodes":          rcodes,
		"qtypes":          qtypes,
		"memory":          memory,
		"raw":             stats,
	})
}

// countBlockedDomains counts refusal directives in the live blocklist
// fragment. A missing fragment means nothing is blocked yet.
func countBlockedDomains(path string) int {
	file, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()

	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "local-zone:") {
			count++
		}
	}

	return count
}

func statFloat(stats map[string]string, key string) float64 {
	return parseFloat(stats[key])
}

func parseFloat(value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}

	return f
}
