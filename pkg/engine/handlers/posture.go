package handlers

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	postureFailOpen   = "fail-open"
	postureFailClosed = "fail-closed"
)

// resolvePosture returns the effective failure posture from a raw schema
// value, falling back when the value is absent, empty or not a string.
func resolvePosture(raw any, fallback string, logger *slog.Logger) string {
	posture := strings.ToLower(fallback)

	switch value := raw.(type) {
	case nil:
		return posture
	case string:
		value = strings.ToLower(strings.TrimSpace(value))
		switch value {
		case "":
			return posture
		case postureFailOpen, postureFailClosed:
			return value
		}
		if logger != nil {
			logger.Warn("unknown posture ignored", "posture", value)
		}
	default:
		if logger != nil {
			logger.Warn("posture ignored because value is not a string", "type", fmt.Sprintf("%T", raw))
		}
	}
	return posture
}
