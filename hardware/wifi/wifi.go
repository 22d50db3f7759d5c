// Package wifi is the boundary to the wireless radio driver.
package wifi

import (
	"context"
	"fmt"
	"strings"
)

type AuthMode byte

const (
	AuthUnknown AuthMode = iota
	AuthOpen
	AuthWEP
	AuthWPA
	AuthWPA2
	AuthWPA3
	AuthEnterprise
)

var authNames = [...]string{
	AuthUnknown:    "unknown",
	AuthOpen:       "open",
	AuthWEP:        "wep",
	AuthWPA:        "wpa",
	AuthWPA2:       "wpa2",
	AuthWPA3:       "wpa3",
	AuthEnterprise: "enterprise",
}

func (a AuthMode) String() string {
	if int(a) < len(authNames) {
		return authNames[a]
	}
	return fmt.Sprintf("auth(%d)", a)
}

// IsOpen reports whether joining requires no credential.
func (a AuthMode) IsOpen() bool { return a == AuthOpen }

// ParseSecurity maps NetworkManager SECURITY column to AuthMode.
// Strongest listed mode wins, "WPA1 WPA2" is WPA2.
func ParseSecurity(s string) AuthMode {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" {
		return AuthOpen
	}
	mode := AuthUnknown
	for _, w := range strings.Fields(s) {
		var m AuthMode
		switch {
		case strings.HasPrefix(w, "802.1X"):
			m = AuthEnterprise
		case strings.HasPrefix(w, "WPA3"):
			m = AuthWPA3
		case strings.HasPrefix(w, "WPA2"):
			m = AuthWPA2
		case strings.HasPrefix(w, "WPA"):
			m = AuthWPA
		case strings.HasPrefix(w, "WEP"):
			m = AuthWEP
		}
		if m > mode {
			mode = m
		}
	}
	return mode
}

// Network is one scan result entry.
type Network struct {
	SSID string
	RSSI int32 // dBm
	Auth AuthMode
}

func (n Network) String() string {
	return fmt.Sprintf("%s (RSSI: %d, %s)", n.SSID, n.RSSI, n.Auth)
}

// Radio is a station mode wireless client.
// Join starts association and may return before it completes; callers poll Connected.
type Radio interface {
	Scan(ctx context.Context) ([]Network, error)
	Join(ctx context.Context, ssid string) error
	Connected() bool
	RSSI() (int32, error)
	Disconnect() error
}
