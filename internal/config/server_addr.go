package config

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeServerURL accepts bare hostnames, host:port, and ws(s):// /
// http(s):// URLs, returning a canonical wss:// base URL (ws:// only when
// the input itself starts with ws:// or http://) suitable for dialing a room
// (adapted from the teacher's client/server_addr.go
// normalizeServerAddr, generalized from bken's host:port scheme to
// Euphoria-style websocket URLs).
func NormalizeServerURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("server address is required")
	}

	switch {
	case strings.HasPrefix(s, "ws://"), strings.HasPrefix(s, "wss://"):
	case strings.HasPrefix(s, "http://"):
		s = "ws://" + strings.TrimPrefix(s, "http://")
	case strings.HasPrefix(s, "https://"):
		s = "wss://" + strings.TrimPrefix(s, "https://")
	default:
		s = "wss://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid server address: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server address: missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}

// RoomURL appends a room's websocket path to a normalized server base
// URL (the euphoria wire protocol serves one room per /room/<name>/ws
// endpoint).
func RoomURL(serverURL, room string) (string, error) {
	base, err := NormalizeServerURL(serverURL)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(base, "/") + "/room/" + room + "/ws", nil
}
