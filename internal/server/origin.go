// Package server normalizes and validates HTTP origins for WebSocket
// requests to enforce configured access control.
package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type originChecker struct {
	logger   *slog.Logger
	allowAll bool
	allowed  map[string]struct{}
}

func newOriginChecker(origins []string, logger *slog.Logger) *originChecker {
	c := &originChecker{
		logger:  logger.With(slog.String("component", "origin")),
		allowed: make(map[string]struct{}, len(origins)),
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
			c.logger.Warn("ignoring invalid origin in configuration", slog.String("origin", origin))
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

	c.logger.Warn("blocked websocket connection from disallowed origin", slog.String("origin", originHeader))
	return false
}
