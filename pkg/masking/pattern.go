package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

type rawPattern struct {
	Pattern     string
	Replacement string
	Description string
}

// builtinPatterns are the personal-data patterns that may appear in legal
// queries. Config selects which of these are active by name.
var builtinPatterns = map[string]rawPattern{
	"codice_fiscale": {
		Pattern:     `\b[A-Za-z]{6}\d{2}[A-Za-z]\d{2}[A-Za-z]\d{3}[A-Za-z]\b`,
		Replacement: "[CODICE_FISCALE]",
		Description: "Italian tax code (16 alphanumeric characters)",
	},
	"email": {
		Pattern:     `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`,
		Replacement: "[EMAIL]",
		Description: "Email address",
	},
	"phone": {
		Pattern:     `(?:\+39[\s.\-]?)?\b(?:3\d{2}|0\d{1,3})[\s.\-]?\d{6,8}\b`,
		Replacement: "[PHONE]",
		Description: "Italian mobile or landline number, optional +39 prefix",
	},
	"iban": {
		Pattern:     `\bIT\d{2}[A-Za-z]\d{10}[A-Za-z0-9]{12}\b`,
		Replacement: "[IBAN]",
		Description: "Italian IBAN (compact form)",
	},
}

// compilePatterns compiles the named built-in patterns.
// Unknown names and invalid patterns are logged and skipped.
func compilePatterns(names []string) []*CompiledPattern {
	compiled := make([]*CompiledPattern, 0, len(names))
	for _, name := range names {
		raw, ok := builtinPatterns[name]
		if !ok {
			slog.Error("Unknown masking pattern, skipping", "pattern", name)
			continue
		}
		re, err := regexp.Compile(raw.Pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		compiled = append(compiled, &CompiledPattern{
			Name:        name,
			Regex:       re,
			Replacement: raw.Replacement,
			Description: raw.Description,
		})
	}
	return compiled
}
