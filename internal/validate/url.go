// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package validate gates job admission: URL and job-id preconditions.
package validate

import (
	"net"
	"net/url"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/ManuGH/aperio/internal/jobs"
)

// Validator checks submitted source URLs against the admission policy.
type Validator struct {
	allowedDomains []string
	maxURLLength   int
}

// New builds a Validator. Domains are matched exactly or as subdomain
// suffixes; comparison is case-insensitive.
func New(allowedDomains []string, maxURLLength int) *Validator {
	domains := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	return &Validator{allowedDomains: domains, maxURLLength: maxURLLength}
}

// URL validates a submitted source URL and returns it unchanged on success.
// Every violation maps to KindInvalidURL with a client-safe reason.
func (v *Validator) URL(raw string) (string, error) {
	if len(raw) > v.maxURLLength {
		return "", jobs.Ef(jobs.KindInvalidURL, "URL too long: %d characters (max %d)", len(raw), v.maxURLLength)
	}
	for _, r := range raw {
		if r == 0 || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			return "", jobs.E(jobs.KindInvalidURL, "URL contains control characters")
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", jobs.Wrap(jobs.KindInvalidURL, "malformed URL", err)
	}
	if u.Scheme != "https" {
		return "", jobs.E(jobs.KindInvalidURL, "scheme must be https")
	}
	if u.User != nil {
		return "", jobs.E(jobs.KindInvalidURL, "embedded credentials are not allowed")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", jobs.E(jobs.KindInvalidURL, "URL must have a host")
	}
	if err := v.checkHost(host); err != nil {
		return "", err
	}
	if !v.domainAllowed(host) {
		return "", jobs.E(jobs.KindInvalidURL, "domain not allowed")
	}
	if err := checkPath(u); err != nil {
		return "", err
	}
	return raw, nil
}

// checkHost rejects IP literals and internal name spaces. Only public DNS
// names pass admission; everything else is an SSRF vector.
func (v *Validator) checkHost(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		return jobs.E(jobs.KindInvalidURL, "IP literals are not allowed")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return jobs.E(jobs.KindInvalidURL, "localhost is not allowed")
	}
	if strings.HasSuffix(host, ".internal") || strings.HasSuffix(host, ".intranet") {
		return jobs.E(jobs.KindInvalidURL, "internal domains are not allowed")
	}
	return nil
}

func (v *Validator) domainAllowed(host string) bool {
	for _, d := range v.allowedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// checkPath rejects traversal sequences and encoded separators that could
// escape the URL origin after percent-decoding.
func checkPath(u *url.URL) error {
	raw := u.EscapedPath()
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "%2f") || strings.Contains(lower, "%5c") {
		return jobs.E(jobs.KindInvalidURL, "encoded path separators are not allowed")
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if seg == ".." {
			return jobs.E(jobs.KindInvalidURL, "path traversal is not allowed")
		}
	}
	return nil
}

// JobID checks the canonical 36-character hyphenated UUID form. Anything else
// is rejected before any store lookup.
func JobID(id string) error {
	if len(id) != 36 {
		return jobs.E(jobs.KindInvalidJobID, "job id must be a canonical UUID")
	}
	if _, err := uuid.Parse(id); err != nil {
		return jobs.E(jobs.KindInvalidJobID, "job id must be a canonical UUID")
	}
	return nil
}
