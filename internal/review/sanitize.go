package review

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/evidence"
	"github.com/forensight/forensight/internal/metrics"
	"github.com/forensight/forensight/internal/oracle"
	"github.com/forensight/forensight/internal/tracing"
	"github.com/forensight/forensight/internal/workpaper"
)

const sanitizeSystem = "You are a compliance audit assistant. Remove any content that is not about the target company."

// Sanitizer asks the oracle to rewrite the entity-scoped narrative fields so
// they discuss only the target company. Like enrichment it is best-effort.
type Sanitizer struct {
	oracle        oracle.Oracle
	maxInputRunes int
	logger        *zap.Logger
}

// NewSanitizer creates a sanitizer.
func NewSanitizer(o oracle.Oracle, logger *zap.Logger) *Sanitizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sanitizer{oracle: o, maxInputRunes: defaultMaxInputRunes, logger: logger}
}

// Sanitize rewrites the scoped fields of wp in place and returns wp. It is
// skipped for a placeholder company name, a non-iterative oracle and a
// workpaper whose scoped fields are all empty. Oracle failures leave wp as is.
func (s *Sanitizer) Sanitize(ctx context.Context, wp *workpaper.Workpaper) *workpaper.Workpaper {
	if wp == nil || !s.oracle.SupportsIteration() {
		return wp
	}
	company := wp.CompanyName()
	if evidence.IsPlaceholder(company) {
		return wp
	}

	fields := workpaper.ScopedFields()
	payload := make(map[string]string, len(fields))
	empty := true
	for _, f := range fields {
		v := wp.Scoped(f)
		payload[string(f)] = v
		if v != "" {
			empty = false
		}
	}
	if empty {
		return wp
	}

	ctx, span := tracing.StartSpan(ctx, "review.sanitize", attribute.String("review.company", company))
	start := time.Now()
	payloadJSON, err := renderJSON(payload, s.maxInputRunes)
	if err == nil {
		var raw map[string]any
		raw, err = s.oracle.Generate(oracle.WithPurpose(ctx, "sanitize"), sanitizeSystem,
			buildSanitizePrompt(company, payloadJSON), scopedSchema(fields))
		if err == nil {
			for _, f := range fields {
				if v, ok := raw[string(f)]; ok {
					wp.SetScoped(f, cast.ToString(v))
				}
			}
		}
	}
	tracing.EndSpan(span, err)

	if err != nil {
		metrics.ScopeSanitizations.WithLabelValues("error").Inc()
		s.logger.Warn("Entity scope sanitization skipped", zap.String("company", company), zap.Error(err))
		return wp
	}
	metrics.ScopeSanitizations.WithLabelValues("success").Inc()
	s.logger.Debug("Entity scope sanitized", zap.String("company", company), zap.Duration("elapsed", time.Since(start)))
	return wp
}

func buildSanitizePrompt(company, payloadJSON string) string {
	return fmt.Sprintf(`Every text below must be about the target company only. Remove any other company names or cases.
If a conclusion cannot be drawn from the target company's own disclosures, write "Not disclosed".

Target company: %s

Fields to clean:
%s`, company, payloadJSON)
}
