// internal/redirect/redirect.go
// Package redirect validates post-authentication redirect targets.
//
// The auth completion flow receives an untrusted "next" query parameter
// naming where to send the user afterwards. Left unchecked, that parameter
// is an open redirect: an attacker crafts a login link whose next value
// points at their own site. Resolve reduces any candidate to a same-origin
// path, falling back to "/" on anything ambiguous.
//
// Security considerations:
//
// Open redirect: candidates are only honored as-is when they are plain
// internal paths. Absolute URLs are honored only when their host is in the
// trusted set, and even then only the path/query/fragment survives.
//
// Protocol-relative URLs: "//evil.com/x" inherits the current scheme and is
// treated by browsers as cross-origin. IsInternalPath rejects the "//"
// prefix outright.
//
// Header injection: carriage return, line feed, and backslash characters
// can split responses or be reinterpreted by some stacks; candidates
// containing them are never internal.
//
// Host header injection: the trusted host set must be built from static
// configuration (see TrustedHostsFromOrigin), never from the incoming
// request's Host or X-Forwarded-Host headers.
package redirect

import (
	"net/url"
	"strings"
)

// Fallback is returned whenever a candidate cannot be proven safe.
const Fallback = "/"

// maxCandidateLen bounds parsing cost on adversarial input. Anything longer
// than a reasonable URL is rejected rather than truncated.
const maxCandidateLen = 2048

// TrustedHosts is the set of host[:port] values the application considers
// its own. In normal operation it has exactly one member, derived from the
// configured canonical origin; multiple members are supported for
// migration or multi-domain periods.
type TrustedHosts map[string]struct{}

// NewTrustedHosts builds a set from explicit host[:port] strings.
// Hosts are matched case-insensitively.
func NewTrustedHosts(hosts ...string) TrustedHosts {
	t := make(TrustedHosts, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			t[h] = struct{}{}
		}
	}
	return t
}

// TrustedHostsFromOrigin derives the trusted set from a canonical origin
// string such as "https://pin.example.com" or "http://localhost:8080".
// The origin must come from static server configuration, never from a
// client-supplied header.
func TrustedHostsFromOrigin(origin string) (TrustedHosts, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, &url.Error{Op: "parse", URL: origin, Err: errNoHost}
	}
	return NewTrustedHosts(u.Host), nil
}

var errNoHost = errorString("origin has no host")

type errorString string

func (e errorString) Error() string { return string(e) }

// Contains reports whether host (host or host:port) is a trusted host.
func (t TrustedHosts) Contains(host string) bool {
	_, ok := t[strings.ToLower(host)]
	return ok
}

// IsInternalPath reports whether candidate is already a safe same-origin
// path: it begins with exactly one "/" (so protocol-relative "//host"
// forms are excluded), carries no scheme marker, and contains no
// header-injection characters. The empty string and "/" are internal.
//
// Pure function; malformed input yields false, never a panic.
func IsInternalPath(candidate string) bool {
	if len(candidate) > maxCandidateLen {
		return false
	}
	if candidate == "" || candidate == "/" {
		return true
	}
	if !strings.HasPrefix(candidate, "/") {
		// Not rooted; anything with a scheme marker before the first "/"
		// ("http:", "javascript:", "mailto:") lands here too.
		return false
	}
	if strings.HasPrefix(candidate, "//") {
		return false
	}
	// Characters that can break headers or be re-parsed as separators.
	if strings.ContainsAny(candidate, "\r\n\\") {
		return false
	}
	return true
}

// Resolve reduces an untrusted candidate to a safe same-origin path.
//
// An empty candidate resolves to Fallback. An internal path is returned
// unchanged. Anything else is decomposed against a neutral placeholder
// base; if its host is trusted, the path?query#fragment remainder is
// rebuilt and re-validated, otherwise the result is Fallback. Resolve
// never returns an error and never panics: all parse failures degrade to
// Fallback.
//
// Applying Resolve to its own output yields the same output.
func Resolve(candidate string, trusted TrustedHosts) string {
	if candidate == "" {
		return Fallback
	}
	if len(candidate) > maxCandidateLen {
		return Fallback
	}
	if IsInternalPath(candidate) {
		return candidate
	}

	// Parse against a neutral base so absolute, schemeless, and
	// protocol-relative inputs all decompose without an error for the
	// common shapes; genuinely malformed input still fails and falls
	// back.
	neutral := &url.URL{Scheme: "placeholder", Host: "placeholder.invalid"}
	u, err := neutral.Parse(candidate)
	if err != nil {
		return Fallback
	}
	if u.Host == "" || !trusted.Contains(u.Host) {
		return Fallback
	}

	// Rebuild a path-only target and re-validate it. A trusted-host URL
	// whose remainder still fails IsInternalPath (parse artifacts, odd
	// encodings) is demoted to Fallback on purpose; lenience here is not
	// worth the risk.
	rebuilt := u.EscapedPath()
	if rebuilt == "" {
		rebuilt = "/"
	}
	if u.ForceQuery || u.RawQuery != "" {
		rebuilt += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		rebuilt += "#" + u.EscapedFragment()
	}
	if IsInternalPath(rebuilt) {
		return rebuilt
	}
	return Fallback
}
