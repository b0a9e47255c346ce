package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originChecker validates the Origin header of WebSocket upgrade requests
// against a normalized allow-list. "*" in the configuration allows every
// origin.
type originChecker struct {
	allowed  map[string]struct{}
	allowAll bool
	log      *slog.Logger
}

func newOriginChecker(origins []string, log *slog.Logger) *originChecker {
	c := &originChecker{
		allowed: make(map[string]struct{}, len(origins)),
		log:     log,
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			c.allowAll = true
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn("ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		c.allowed[normalized] = struct{}{}
	}
	return c
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (c *originChecker) check(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	if c.allowAll {
		return true
	}
	if _, exists := c.allowed[normalized]; exists {
		return true
	}

	c.log.Warn("blocked websocket upgrade from disallowed origin", "origin", originHeader)
	return false
}
