package botwall

import (
	"crypto/tls"
	"net"
	"strings"
)

// hostOnly strips a port from addr, if present, tolerating both IPv4
// and bracketed IPv6 forms.
func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// subnet24 returns the /24 (or /64 for IPv6) prefix of ip as a string,
// used for subnet-level signature hashing and network-category
// detectors without retaining the full address.
func subnet24(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return net.IPv4(v4[0], v4[1], v4[2], 0).String() + "/24"
	}
	mask := net.CIDRMask(64, 128)
	return parsed.Mask(mask).String() + "/64"
}

func lower(s string) string { return strings.ToLower(s) }

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLS1.0"
	case tls.VersionTLS11:
		return "TLS1.1"
	case tls.VersionTLS12:
		return "TLS1.2"
	case tls.VersionTLS13:
		return "TLS1.3"
	default:
		return "unknown"
	}
}

func tlsCipherName(id uint16) string {
	return tls.CipherSuiteName(id)
}
