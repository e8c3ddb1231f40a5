package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseAssetID checks that parsing never panics and that accepted IDs
// round-trip.
func FuzzParseAssetID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE assets;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseAssetID(input)
		if err == nil {
			if id.IsNil() {
				t.Error("nil ID accepted")
			}
			roundTrip, err2 := ParseAssetID(id.String())
			if err2 != nil || roundTrip != id {
				t.Errorf("valid ID failed round-trip: %v", err2)
			}
		}
		if !utf8.ValidString(input) && err == nil {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

// FuzzParseAllIDs ensures every ID type validates identically.
func FuzzParseAllIDs(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		_, errAsset := ParseAssetID(input)
		_, errKit := ParseKitID(input)
		_, errManifest := ParseManifestID(input)
		_, errForm := ParseFormID(input)
		_, errPollSite := ParsePollSiteID(input)

		accepted := errAsset == nil
		for _, err := range []error{errKit, errManifest, errForm, errPollSite} {
			if (err == nil) != accepted {
				t.Error("inconsistent parsing across ID types")
			}
		}
	})
}
