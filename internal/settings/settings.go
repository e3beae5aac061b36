// Package settings owns every user-editable document the resolver is configured
// from: the main settings record plus the blocklist source, whitelist, local
// record and refresh status stores. All writes go through a single writer and
// land on disk via a temporary file renamed into place, so readers never see a
// partially written document.
package settings

import (
	"errors"
	"fmt"
)

type (
	// The Settings type is the persisted record of resolver options. Field names
	// match the keys used by the on-disk JSON document, so a hand-edited file
	// keeps working. Unknown keys are ignored and missing keys take their
	// defaults.
	Settings struct {
		// When true, the user supplies their own resolver configuration file and
		// every other field in this record is ignored.
		CustomConfig bool `json:"custom_config"`
		// CIDR ranges allowed to query the resolver.
		AccessControl []string `json:"access_control"`
		// Number of resolver worker threads. Changing this requires a process
		// restart, a reload is not enough.
		NumThreads int `json:"num_threads"`
		// Prefetch popular cache entries before they expire.
		Prefetch bool `json:"prefetch"`
		// Permille of queries used to probe for faster nameservers.
		FastServerPermil int `json:"fast_server_permil"`
		// Number of fast servers to pick from.
		FastServerNum int  `json:"fast_server_num"`
		PreferIP4     bool `json:"prefer_ip4"`
		DoIP4         bool `json:"do_ip4"`
		DoIP6         bool `json:"do_ip6"`
		// Cache TTL clamps, in seconds.
		CacheMinTTL int `json:"cache_min_ttl"`
		CacheMaxTTL int `json:"cache_max_ttl"`
		// Toggles DNSSEC validation as a unit. When false the validator module
		// is excluded from the resolver entirely.
		EnableDNSSEC      bool `json:"enable_dnssec"`
		QnameMinimisation bool `json:"qname_minimisation"`
		HideIdentity      bool `json:"hide_identity"`
		HideVersion       bool `json:"hide_version"`
		// Upstream servers to forward all queries to. Empty means full recursive
		// mode.
		ForwardServers []string `json:"forward_servers"`
		// Use DNS-over-TLS towards the forward servers.
		ForwardTLS bool `json:"forward_tls"`
		// Resolver log verbosity, 0-5.
		Verbosity  int  `json:"verbosity"`
		LogQueries bool `json:"log_queries"`
	}
)

// Default returns a Settings record populated with the documented default for
// every option.
func Default() Settings {
	return Settings{
		CustomConfig:      false,
		AccessControl:     []string{"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
		NumThreads:        2,
		Prefetch:          true,
		FastServerPermil:  500,
		FastServerNum:     5,
		PreferIP4:         true,
		DoIP4:             true,
		DoIP6:             true,
		CacheMinTTL:       60,
		CacheMaxTTL:       86400,
		EnableDNSSEC:      true,
		QnameMinimisation: true,
		HideIdentity:      true,
		HideVersion:       true,
		ForwardServers:    []string{},
		ForwardTLS:        false,
		Verbosity:         1,
		LogQueries:        false,
	}
}

// Validate the settings against their documented bounds.
func (s *Settings) Validate() error {
	return errors.Join(
		intRange("num_threads", s.NumThreads, 1, 16),
		intRange("fast_server_permil", s.FastServerPermil, 0, 1000),
		intRange("fast_server_num", s.FastServerNum, 1, 20),
		intRange("cache_min_ttl", s.CacheMinTTL, 0, 86400),
		intRange("cache_max_ttl", s.CacheMaxTTL, 60, 604800),
		intRange("verbosity", s.Verbosity, 0, 5),
	)
}

func intRange(key string, val, min, max int) error {
	if val < min {
		return fmt.Errorf("%s: minimum is %d, got %d", key, min, val)
	}

	if val > max {
		return fmt.Errorf("%s: maximum is %d, got %d", key, max, val)
	}

	return nil
}
