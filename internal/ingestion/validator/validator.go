// Package validator checks search-form input before any network or storage
// access happens. It returns per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/postvault/postvault/internal/ingestion"
	apperrors "github.com/postvault/postvault/pkg/errors"
)

const maxKeywordLength = 512

// Bounds is the result-count range the search API accepts.
type Bounds struct {
	Min int
	Max int
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrValidation
}

// ValidateQueryRequest checks the keyword and the result bound. The date
// range is advisory and only checked for ordering.
func ValidateQueryRequest(req ingestion.QueryRequest, bounds Bounds) error {
	errs := make(map[string]string)

	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		errs["keyword"] = "Please enter a keyword."
	} else if len(keyword) > maxKeywordLength {
		errs["keyword"] = fmt.Sprintf("keyword must be at most %d characters", maxKeywordLength)
	}
	if req.ResultBound < bounds.Min || req.ResultBound > bounds.Max {
		errs["result_bound"] = fmt.Sprintf("number of posts must be between %d and %d", bounds.Min, bounds.Max)
	}
	dr := req.DateRange
	if !dr.Start.IsZero() && !dr.End.IsZero() && dr.End.Before(dr.Start) {
		errs["date_range"] = "end date must not be before start date"
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// Messages returns the field messages ordered by field name.
func (e *ValidationError) Messages() []string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, field := range keys {
		msgs = append(msgs, e.Fields[field])
	}
	return msgs
}
