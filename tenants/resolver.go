package tenants

import (
	"net"
	"regexp"
	"strings"
)

// DefaultReservedLabels are host labels that belong to the platform itself and
// never name a cluster.
var DefaultReservedLabels = []string{"www", "api", "cdn"}

var dnsLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// Resolver derives the cluster slug of a request from its host name.
// A Resolver is immutable and safe for concurrent use.
type Resolver struct {
	mainLabels int
	reserved   map[string]struct{}
}

// NewResolver creates a resolver for tenants that live one label below mainDomain.
// A nil reserved list uses DefaultReservedLabels.
func NewResolver(mainDomain string, reserved []string) *Resolver {
	if reserved == nil {
		reserved = DefaultReservedLabels
	}
	r := &Resolver{
		mainLabels: len(splitLabels(normalizeHost(mainDomain))),
		reserved:   make(map[string]struct{}, len(reserved)),
	}
	for _, label := range reserved {
		r.reserved[strings.ToLower(label)] = struct{}{}
	}
	return r
}

// Resolve returns the cluster slug for host and true, or "" and false when the
// host is the bare main domain, an IP address, a reserved label such as www, or
// a first label that is not a valid DNS label.
func (r *Resolver) Resolve(host string) (string, bool) {
	host = normalizeHost(host)
	if net.ParseIP(host) != nil {
		return "", false
	}
	labels := splitLabels(host)
	if len(labels) <= r.mainLabels {
		return "", false
	}
	slug := labels[0]
	if _, reserved := r.reserved[slug]; reserved {
		return "", false
	}
	if !dnsLabel.MatchString(slug) {
		return "", false
	}
	return slug, true
}

// Resolve is a convenience for a one-off lookup with the default reserved labels.
func Resolve(host, mainDomain string) (string, bool) {
	return NewResolver(mainDomain, nil).Resolve(host)
}

// normalizeHost lower-cases host and strips any port and trailing dot.
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

func splitLabels(host string) []string {
	if host == "" {
		return nil
	}
	return strings.Split(host, ".")
}
