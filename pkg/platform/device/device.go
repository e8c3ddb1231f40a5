// Package device describes the client a chain-of-custody signature was
// captured on. The description is stored with the signature; the fingerprint
// lets reviewers spot signatures captured from an unexpected device class.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
)

// Info is the parsed signing device.
type Info struct {
	DisplayName string
	Mobile      bool
	Fingerprint string
}

// Parse builds device info from a User-Agent header.
func Parse(userAgent string) Info {
	if strings.TrimSpace(userAgent) == "" {
		return Info{DisplayName: "Unknown Device"}
	}
	ua := useragent.New(userAgent)
	return Info{
		DisplayName: ParseUserAgent(userAgent),
		Mobile:      ua.Mobile(),
		Fingerprint: Fingerprint(userAgent),
	}
}

// ParseUserAgent renders "Browser on OS" for display.
func ParseUserAgent(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	os := ua.OS()
	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = ua.Platform()
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}

// Fingerprint hashes browser family, major version, OS and platform. Minor
// browser upgrades keep the same fingerprint.
func Fingerprint(userAgent string) string {
	ua := useragent.New(userAgent)
	browser, version := ua.Browser()
	major, _, _ := strings.Cut(version, ".")
	sum := sha256.Sum256([]byte(browser + "|" + major + "|" + ua.OS() + "|" + ua.Platform()))
	return hex.EncodeToString(sum[:])
}
