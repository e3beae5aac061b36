// Package unbound renders the resolver configuration document from a settings
// record and wraps the resolver's external validation and control commands.
package unbound

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fwellner/unbound-admin/internal/settings"
)

type (
	// The Paths type names every file location referenced by a synthesized
	// configuration. Synthesis is a pure function of the settings record and
	// these paths.
	Paths struct {
		// The live configuration file consumed by the resolver.
		Conf string
		// Include fragments, regenerated wholesale on every refresh.
		Blocklist    string
		LocalRecords string
		// Query log location, referenced only when query logging is on.
		QueryLog string
		// Root hints and DNSSEC trust anchor shipped with the resolver.
		RootHints   string
		TrustAnchor string
	}
)

// DefaultPaths returns the conventional file layout: configuration under
// confDir, mutable state under dataDir.
func DefaultPaths(confDir, dataDir string) Paths {
	return Paths{
		Conf:         filepath.Join(confDir, "unbound.conf"),
		Blocklist:    filepath.Join(confDir, "blocklist.conf"),
		LocalRecords: filepath.Join(confDir, "local_records.conf"),
		QueryLog:     filepath.Join(dataDir, "unbound_queries.log"),
		RootHints:    filepath.Join(confDir, "root.hints"),
		TrustAnchor:  "/var/lib/unbound/root.key",
	}
}

// Staged returns the same layout with every generated file suffixed, used as
// the staging slot a candidate is validated from before it replaces the live
// files. Staged paths stay in the same directory so the final rename is
// atomic.
func (p Paths) Staged() Paths {
	staged := p
	staged.Conf += ".next"
	staged.Blocklist += ".next"
	staged.LocalRecords += ".next"
	return staged
}

// Synthesize renders the complete resolver configuration for the given
// settings. Identical inputs always produce identical output text. The
// blocklist and local-record fragments are referenced by include so they can
// be regenerated and swapped independently.
func Synthesize(s settings.Settings, p Paths) string {
	var sb strings.Builder

	line := func(format string, args ...any) {
		fmt.Fprintf(&sb, format+"\n", args...)
	}

	logFile := ""
	if s.LogQueries {
		logFile = p.QueryLog
	}

	line("server:")
	line("    # Daemon settings")
	line("    do-daemonize: no")
	line(`    chroot: ""`)
	line("")
	line("    # Network settings")
	line("    interface: 0.0.0.0")
	line("    port: 53")
	line("    do-ip4: %s", yesno(s.DoIP4))
	line("    do-ip6: %s", yesno(s.DoIP6))
	line("    prefer-ip4: %s", yesno(s.PreferIP4))
	line("    do-udp: yes")
	line("    do-tcp: yes")
	line("    do-not-query-localhost: no")
	line("")
	line("    # Performance settings")
	line("    num-threads: %d", s.NumThreads)
	line("    prefetch: %s", yesno(s.Prefetch))
	line("    fast-server-permil: %d", s.FastServerPermil)
	line("    fast-server-num: %d", s.FastServerNum)
	line("    msg-cache-slabs: 4")
	line("    rrset-cache-slabs: 4")
	line("    infra-cache-slabs: 4")
	line("    key-cache-slabs: 4")
	line("")
	line("    # Cache settings")
	line("    cache-min-ttl: %d", s.CacheMinTTL)
	line("    cache-max-ttl: %d", s.CacheMaxTTL)
	line("")
	line("    # Privacy settings")
	line("    qname-minimisation: %s", yesno(s.QnameMinimisation))
	line("    hide-identity: %s", yesno(s.HideIdentity))
	line("    hide-version: %s", yesno(s.HideVersion))
	line("")
	line("    # Root hints for recursive resolution")
	line("    root-hints: %q", p.RootHints)
	line("")
	line("    # Trust anchor for DNSSEC")
	line("    auto-trust-anchor-file: %q", p.TrustAnchor)
	line("")
	line("    # Hardening")
	line("    harden-glue: yes")
	line("    harden-dnssec-stripped: yes")
	line("    harden-referral-path: yes")
	line("")
	line("    # Log settings")
	line("    verbosity: %d", s.Verbosity)
	line("    logfile: %q", logFile)
	line("    log-queries: %s", yesno(s.LogQueries))
	line("    log-replies: %s", yesno(s.LogQueries))
	line("    log-servfail: yes")
	line("")
	line("    # Include blocklist and local records")
	line("    include: %q", p.Blocklist)
	line("    include: %q", p.LocalRecords)

	for _, network := range s.AccessControl {
		line("    access-control: %s allow", network)
	}

	if s.EnableDNSSEC {
		line("")
		line("    # DNSSEC validation")
		line("    val-clean-additional: yes")
	} else {
		// Validation logic is excluded outright, not merely unconfigured.
		line("")
		line("    # DNSSEC validation disabled")
		line(`    module-config: "iterator"`)
	}

	line("")
	line("remote-control:")
	line("    control-enable: yes")
	line("    control-interface: 127.0.0.1")
	line(`    server-key-file: "/etc/unbound/unbound_server.key"`)
	line(`    server-cert-file: "/etc/unbound/unbound_server.pem"`)
	line(`    control-key-file: "/etc/unbound/unbound_control.key"`)
	line(`    control-cert-file: "/etc/unbound/unbound_control.pem"`)

	if len(s.ForwardServers) > 0 {
		line("")
		line("forward-zone:")
		line(`    name: "."`)
		line("    forward-tls-upstream: %s", yesno(s.ForwardTLS))
		for _, server := range s.ForwardServers {
			line("    forward-addr: %s", server)
		}
	}

	return sb.String()
}

func yesno(v bool) string {
	if v {
		return "yes"
	}

	return "no"
}
