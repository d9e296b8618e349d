// Package masking removes personal data from query text before it reaches
// logs or persistent storage. The working copy of the query used for
// reasoning is never masked; only the recorded copies are.
package masking

import (
	"log/slog"

	"github.com/legalkit/lexor/pkg/config"
)

// Service applies the configured personal-data patterns to text.
// Created once at application startup. Thread-safe and stateless aside from
// compiled patterns.
type Service struct {
	enabled  bool
	patterns []*CompiledPattern
}

// NewService compiles the configured patterns eagerly.
// Invalid or unknown pattern names are logged and skipped.
func NewService(cfg *config.MaskingConfig) *Service {
	s := &Service{enabled: cfg.Enabled}
	if cfg.Enabled {
		s.patterns = compilePatterns(cfg.Patterns)
	}

	slog.Info("Masking service initialized",
		"enabled", s.enabled,
		"compiled_patterns", len(s.patterns))

	return s
}

// Mask replaces every personal-data match in text with its placeholder.
// Returns text unchanged when masking is disabled or nothing matches.
func (s *Service) Mask(text string) string {
	if !s.enabled || text == "" {
		return text
	}
	masked := text
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}
