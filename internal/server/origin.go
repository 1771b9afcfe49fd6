package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// wildcardOrigin in the allowlist admits every origin, including requests
// that send none.
const wildcardOrigin = "*"

// normalizeOrigins trims, lowercases and deduplicates the configured
// origins. Entries that are not scheme://host are returned as rejected.
func normalizeOrigins(origins []string) ([]string, []string) {
	if len(origins) == 0 {
		return nil, nil
	}

	normalized := make([]string, 0, len(origins))
	seen := make(map[string]struct{}, len(origins))
	var rejected []string

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		value := wildcardOrigin
		if trimmed != wildcardOrigin {
			normalizedOrigin, ok := normalizeOrigin(trimmed)
			if !ok {
				rejected = append(rejected, origin)
				continue
			}
			value = normalizedOrigin
		}

		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		normalized = append(normalized, value)
	}

	return normalized, rejected
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

// originPolicy decides which browser origins may open a WebSocket.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	logger   *zap.Logger
}

func newOriginPolicy(origins []string, logger *zap.Logger) *originPolicy {
	p := &originPolicy{
		allowed: make(map[string]struct{}, len(origins)),
		logger:  logger,
	}
	for _, origin := range origins {
		if origin == wildcardOrigin {
			p.allowAll = true
			continue
		}
		p.allowed[origin] = struct{}{}
	}
	return p
}

func (p *originPolicy) isAllowed(r *http.Request) bool {
	if p.allowAll {
		return true
	}

	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	normalizedOrigin, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	_, exists := p.allowed[normalizedOrigin]
	return exists
}

// checkOrigin is the websocket.Upgrader hook.
func (p *originPolicy) checkOrigin(r *http.Request) bool {
	if p.isAllowed(r) {
		return true
	}

	p.logger.Warn("Blocked WebSocket connection from disallowed origin",
		zap.String("origin", r.Header.Get("Origin")), zap.String("remote_addr", r.RemoteAddr))
	return false
}
