package signatures

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
)

// registrable returns the eTLD+1 of host, or host itself for names the
// public suffix list does not cover (localhost, IP literals).
func registrable(host string) string {
	host = strings.ToLower(host)
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

// checkReturnURL accepts absolute http(s) URLs on the same registrable domain
// as base, so providers can only send the signer back to this platform.
func checkReturnURL(raw, base string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Hostname() == "" {
		return fmt.Errorf("%w: return url must be absolute", domain.ErrInvalidInput)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: return url scheme %q", domain.ErrInvalidInput, u.Scheme)
	}
	b, err := url.Parse(base)
	if err != nil || b.Hostname() == "" {
		return fmt.Errorf("%w: public base url not configured", domain.ErrInvalidInput)
	}
	if registrable(u.Hostname()) != registrable(b.Hostname()) {
		return fmt.Errorf("%w: return url host %q is outside %q", domain.ErrInvalidInput, u.Hostname(), registrable(b.Hostname()))
	}
	return nil
}
