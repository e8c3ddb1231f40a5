// Package idgen generates the human-readable identifiers printed on
// manifests, seals and custody paperwork. Formats are persisted and must not
// change:
//
//	MAN-{yyyyMMdd}-{8 hex}    manifest numbers
//	SEAL-{8 hex}              seal numbers
//	AUD-{yyyyMMdd}-{8 hex}    audit session numbers
//	BDEL-{yyyyMMdd}-{8 hex}   delivery request numbers
//	{12 hex}                  public CoC form identifiers
//
// Hex digits are uppercase and drawn from a random 128-bit UUID.
package idgen

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "20060102"

// randomHex returns the first n uppercase hex characters of a fresh v4 UUID.
func randomHex(n int) string {
	u := uuid.New()
	return strings.ToUpper(hex.EncodeToString(u[:]))[:n]
}

func dated(prefix string, now time.Time) string {
	return prefix + "-" + now.Format(dateLayout) + "-" + randomHex(8)
}

// ManifestNumber returns MAN-{yyyyMMdd}-{8 hex}.
func ManifestNumber(now time.Time) string {
	return dated("MAN", now)
}

// SealNumber returns SEAL-{8 hex}.
func SealNumber() string {
	return "SEAL-" + randomHex(8)
}

// AuditSessionNumber returns AUD-{yyyyMMdd}-{8 hex}.
func AuditSessionNumber(now time.Time) string {
	return dated("AUD", now)
}

// DeliveryRequestNumber returns BDEL-{yyyyMMdd}-{8 hex}.
func DeliveryRequestNumber(now time.Time) string {
	return dated("BDEL", now)
}

// FormPublicID returns the 12-character opaque identifier embedded in
// /coc/form/{id} URLs.
func FormPublicID() string {
	return randomHex(12)
}

// KitName names an auto-generated kit after its poll site and creation time.
func KitName(pollSite string, now time.Time) string {
	return "KIT-" + pollSite + "-" + now.UTC().Format("20060102150405")
}
