package canonical

import (
	"fmt"
	"strings"
)

// Platform identifies an external system users are synced from.
type Platform string

// Known platforms.
const (
	PlatformHotmart   Platform = "hotmart"
	PlatformCursEduca Platform = "curseduca"
	PlatformDiscord   Platform = "discord"
)

// Platforms lists every known platform in a stable order.
func Platforms() []Platform {
	return []Platform{PlatformHotmart, PlatformCursEduca, PlatformDiscord}
}

// IsValid reports whether p is a known platform.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformHotmart, PlatformCursEduca, PlatformDiscord:
		return true
	}
	return false
}

// String returns the platform identifier.
func (p Platform) String() string {
	return string(p)
}

// ParsePlatform parses a platform name case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("unknown platform %q: must be one of hotmart, curseduca, discord", s)
	}
	return p, nil
}
