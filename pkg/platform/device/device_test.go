package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DeviceSuite struct {
	suite.Suite
}

func TestDeviceSuite(t *testing.T) {
	suite.Run(t, new(DeviceSuite))
}

func (s *DeviceSuite) TestUserAgentParsing() {
	s.Run("empty user agent returns unknown device", func() {
		s.Equal("Unknown Device", ParseUserAgent(""))
		s.Equal(Info{DisplayName: "Unknown Device"}, Parse("  "))
	})

	s.Run("chrome on desktop includes browser and OS", func() {
		ua := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
		result := ParseUserAgent(ua)
		s.Contains(result, "Chrome")
		s.Contains(result, " on ")
		s.NotContains(result, "  ")
		s.False(Parse(ua).Mobile)
	})

	s.Run("safari on iphone is mobile", func() {
		ua := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
		info := Parse(ua)
		s.Contains(info.DisplayName, "iPhone")
		s.True(info.Mobile)
	})

	s.Run("result has no leading or trailing whitespace", func() {
		result := ParseUserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
		s.Equal(strings.TrimSpace(result), result)
	})
}

func (s *DeviceSuite) TestFingerprint() {
	s.Run("deterministic", func() {
		ua := "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
		s.Equal(Fingerprint(ua), Fingerprint(ua))
		s.Len(Fingerprint(ua), 64)
	})

	s.Run("minor version changes do not affect fingerprint", func() {
		ua1 := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.109 Safari/537.36"
		ua2 := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.224 Safari/537.36"
		s.Equal(Fingerprint(ua1), Fingerprint(ua2))
	})

	s.Run("major version changes affect fingerprint", func() {
		ua1 := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
		ua2 := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
		s.NotEqual(Fingerprint(ua1), Fingerprint(ua2))
	})
}
