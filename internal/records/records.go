// Package records compiles local hostname to IPv4 address mappings into
// resolver directives.
package records

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/fwellner/unbound-admin/internal/settings"
)

// Validate checks that a record's hostname is a well-formed domain name and
// its address is an IPv4 address. The hostname is lowercased in place.
func Validate(rec *settings.Record) error {
	rec.Hostname = strings.ToLower(strings.TrimSpace(rec.Hostname))
	rec.IP = strings.TrimSpace(rec.IP)

	if _, ok := dns.IsDomainName(rec.Hostname); !ok || rec.Hostname == "" {
		return fmt.Errorf("invalid hostname: %q", rec.Hostname)
	}

	ip := net.ParseIP(rec.IP)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("invalid IPv4 address: %q", rec.IP)
	}

	return nil
}

// Compile renders the records as the resolver's local-records include file.
// Each record claims authority over its hostname's zone and binds it to the
// given address. Emission follows input order and duplicates are not removed,
// the resolver's last-wins semantics decide.
func Compile(records []settings.Record) string {
	var sb strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&sb, "local-zone: %q redirect\n", rec.Hostname+".")
		fmt.Fprintf(&sb, "local-data: %q\n", fmt.Sprintf("%s. A %s", rec.Hostname, rec.IP))
	}

	return sb.String()
}
