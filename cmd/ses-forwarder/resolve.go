package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/shineum/ses-forwarder-lite/internal/rules"
)

// printResolution writes how addr would be forwarded.
func printResolution(w io.Writer, table *rules.Table, domains *rules.DomainSet, addr string) {
	fmt.Fprintf(w, "address:      %s\n", addr)
	if !domains.IsManaged(addr) {
		fmt.Fprintf(w, "managed:      no (domain not in %s)\n", strings.Join(domains.Domains(), ", "))
		fmt.Fprintln(w, "destinations: none")
		return
	}

	m := table.Lookup(addr)
	fmt.Fprintln(w, "managed:      yes")
	fmt.Fprintf(w, "policy:       %s\n", table.Policy())
	fmt.Fprintf(w, "patterns:     %s\n", strings.Join(m.Patterns, ", "))
	fmt.Fprintf(w, "destinations: %s\n", strings.Join(m.Destinations, ", "))
}
