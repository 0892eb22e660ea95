// Package mx implements a best-effort MX verification helper: it looks up
// the recipient domain's MX records purely to log a warning when none are
// found, and never gates a send on the result.
package mx

import (
	"net"
	"strings"

	"golang.org/x/net/idna"

	"mikromail/internal/trace"
)

// lookupMX is overridden in tests.
var lookupMX = net.LookupMX

// Check resolves domain's MX records and reports them on tr as a warning
// if the lookup fails or returns nothing. It never returns an error to the
// caller -- this is advisory only, the way the lineage's own courier
// treats a missing-MX condition for logging, not as a hard precondition
// here.
func Check(tr *trace.Trace, domain string) {
	asciiDomain, err := idna.ToASCII(domain)
	if err != nil {
		tr.Printf("MX check: could not convert domain %q to ASCII: %v", domain, err)
		return
	}

	records, err := lookupMX(asciiDomain)
	if err != nil {
		tr.Printf("MX check: lookup failed for %q: %v", asciiDomain, err)
		return
	}
	if len(records) == 0 {
		tr.Printf("MX check: no MX records for %q", asciiDomain)
		return
	}

	hosts := make([]string, len(records))
	for i, r := range records {
		hosts[i] = r.Host
	}
	tr.Debugf("MX check: %s -> %s", asciiDomain, strings.Join(hosts, ", "))
}
