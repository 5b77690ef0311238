package security

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ThreatType names a class of hostile input.
type ThreatType string

const (
	ThreatSQLInjection  ThreatType = "sql_injection"
	ThreatXSS           ThreatType = "xss"
	ThreatPathTraversal ThreatType = "path_traversal"
	ThreatMalformed     ThreatType = "malformed_input"
	ThreatControlChars  ThreatType = "control_characters"
)

// ValidationConfig bounds the accepted input sizes.
type ValidationConfig struct {
	MaxDeviceIDLength   int `json:"max_device_id_length"`
	MaxLicenseKeyLength int `json:"max_license_key_length"`
	MaxTextLength       int `json:"max_text_length"`
}

// ValidationResult is the outcome of one validation.
type ValidationResult struct {
	IsValid        bool     `json:"is_valid"`
	SanitizedValue string   `json:"sanitized_value"`
	Errors         []string `json:"errors"`
	RiskScore      int      `json:"risk_score"`
	InputType      string   `json:"input_type"`
	ThreatTypes    []string `json:"threat_types"`
}

// Error joins the validation errors.
func (r *ValidationResult) Error() string {
	return strings.Join(r.Errors, "; ")
}

// InputValidator screens identifiers and free text from the admin API.
type InputValidator struct {
	logger *slog.Logger
	config ValidationConfig

	sqlInjectionPatterns []*regexp.Regexp
	xssPatterns          []*regexp.Regexp
	pathTraversal        *regexp.Regexp
}

// DefaultValidationConfig returns the limits used by the server.
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		MaxDeviceIDLength:   128,
		MaxLicenseKeyLength: 512,
		MaxTextLength:       2000,
	}
}

// NewInputValidator compiles the threat patterns.
func NewInputValidator(config *ValidationConfig, logger *slog.Logger) *InputValidator {
	if config == nil {
		config = DefaultValidationConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InputValidator{
		logger: logger,
		config: *config,
		sqlInjectionPatterns: compileAll(
			`(?i)'\s*;\s*(drop|delete|insert|update|create|alter)\b`,
			`(?i)\bunion\s+(all\s+)?select\b`,
			`(?i)\b(or|and)\s+1\s*=\s*1\b`,
			`(?i)--\s*(drop|delete)\b`,
		),
		xssPatterns: compileAll(
			`(?i)<\s*/?\s*script[^>]*>`,
			`(?i)javascript:|vbscript:`,
			`(?i)<\s*(iframe|object|embed|applet)\b`,
			`(?i)\bon\w+\s*=`,
		),
		pathTraversal: regexp.MustCompile(`\.\.[/\\]`),
	}
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// ValidateDeviceID accepts printable identifiers without whitespace.
func (v *InputValidator) ValidateDeviceID(ctx context.Context, deviceID string) *ValidationResult {
	result := newResult("device_id")
	sanitized := strings.TrimSpace(deviceID)
	result.SanitizedValue = sanitized

	switch {
	case sanitized == "":
		result.Errors = append(result.Errors, "device_id cannot be empty")
	case utf8.RuneCountInString(sanitized) > v.config.MaxDeviceIDLength:
		result.Errors = append(result.Errors, fmt.Sprintf("device_id exceeds maximum length of %d characters", v.config.MaxDeviceIDLength))
	case !utf8.ValidString(sanitized):
		v.flag(result, ThreatMalformed, 30)
		result.Errors = append(result.Errors, "device_id is not valid UTF-8")
	default:
		for _, r := range sanitized {
			if unicode.IsSpace(r) || !unicode.IsPrint(r) {
				v.flag(result, ThreatControlChars, 20)
				result.Errors = append(result.Errors, "device_id must not contain whitespace or control characters")
				break
			}
		}
	}
	v.detect(sanitized, result)
	return v.finish(ctx, deviceID, result)
}

// ValidateLicenseKey accepts an override key supplied by an operator.
func (v *InputValidator) ValidateLicenseKey(ctx context.Context, key string) *ValidationResult {
	result := newResult("license_key")
	sanitized := strings.TrimSpace(key)
	result.SanitizedValue = sanitized

	if len(sanitized) > v.config.MaxLicenseKeyLength {
		result.Errors = append(result.Errors, fmt.Sprintf("license_key exceeds maximum length of %d characters", v.config.MaxLicenseKeyLength))
	}
	if strings.IndexFunc(sanitized, unicode.IsControl) >= 0 {
		v.flag(result, ThreatControlChars, 20)
		result.Errors = append(result.Errors, "license_key must not contain control characters")
	}
	v.detect(sanitized, result)
	return v.finish(ctx, key, result)
}

// ValidateText checks customer names and notes. Control characters other
// than newlines and tabs are removed; threats are reported but not rejected.
func (v *InputValidator) ValidateText(ctx context.Context, inputType, text string) *ValidationResult {
	result := newResult(inputType)
	if utf8.RuneCountInString(text) > v.config.MaxTextLength {
		result.Errors = append(result.Errors, fmt.Sprintf("%s exceeds maximum length of %d characters", inputType, v.config.MaxTextLength))
	}
	result.SanitizedValue = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, text))
	v.detect(text, result)
	return v.finish(ctx, text, result)
}

func newResult(inputType string) *ValidationResult {
	return &ValidationResult{InputType: inputType, Errors: []string{}, ThreatTypes: []string{}}
}

func (v *InputValidator) flag(result *ValidationResult, threat ThreatType, score int) {
	result.ThreatTypes = append(result.ThreatTypes, string(threat))
	result.RiskScore += score
}

func (v *InputValidator) detect(input string, result *ValidationResult) {
	for _, p := range v.sqlInjectionPatterns {
		if p.MatchString(input) {
			v.flag(result, ThreatSQLInjection, 50)
			break
		}
	}
	for _, p := range v.xssPatterns {
		if p.MatchString(input) {
			v.flag(result, ThreatXSS, 40)
			break
		}
	}
	if v.pathTraversal.MatchString(input) {
		v.flag(result, ThreatPathTraversal, 35)
	}
}

func (v *InputValidator) finish(ctx context.Context, original string, result *ValidationResult) *ValidationResult {
	if result.RiskScore > 30 {
		truncated := original
		if len(truncated) > 100 {
			truncated = truncated[:100] + "..."
		}
		v.logger.WarnContext(ctx, "suspicious input detected",
			slog.String("input_type", result.InputType),
			slog.String("original_input", truncated),
			slog.Int("risk_score", result.RiskScore),
			slog.Any("threat_types", result.ThreatTypes))
	}
	result.IsValid = len(result.Errors) == 0
	return result
}
