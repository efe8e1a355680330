// Package validation runs the configured column-level data checks (NOT
// NULL / RANGE / REGEX / FOREIGN_KEY) against the backing database ahead
// of rule execution.
package validation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/store"
)

// defaultSampleLimit bounds how many rows REGEX sampling inspects.
const defaultSampleLimit = 500

// Runner executes configured validations and appends their outcome to
// the validation log.
type Runner struct {
	store       store.Store
	sampleLimit int
}

// New constructs a Runner. sampleLimit <= 0 uses defaultSampleLimit.
func New(s store.Store, sampleLimit int) *Runner {
	if sampleLimit <= 0 {
		sampleLimit = defaultSampleLimit
	}
	return &Runner{store: s, sampleLimit: sampleLimit}
}

// RunTable executes every configured validation for tableName and
// returns the results, most-recently-run last. Each result is also
// appended to the validation log.
func (r *Runner) RunTable(ctx context.Context, tableName string) ([]model.ValidationResult, error) {
	validations, err := r.store.AllValidations(ctx, tableName)
	if err != nil {
		return nil, err
	}

	results := make([]model.ValidationResult, 0, len(validations))
	for _, v := range validations {
		result := r.run(ctx, v)
		if err := r.store.AppendValidationLog(ctx, &result); err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *Runner) run(ctx context.Context, v model.Validation) model.ValidationResult {
	result := model.ValidationResult{
		ValidationID: v.ValidationID,
		TableName:    v.TableName,
		ColumnName:   v.ColumnName,
		Type:         v.Type,
		Params:       v.Params,
		Timestamp:    time.Now(),
	}

	switch v.Type {
	case model.ValidationNotNull:
		r.runNotNull(ctx, v, &result)
	case model.ValidationRange:
		r.runRange(ctx, v, &result)
	case model.ValidationRegex:
		r.runRegex(ctx, v, &result)
	case model.ValidationForeignKey:
		r.runForeignKey(ctx, v, &result)
	default:
		result.Pass = false
		result.Message = fmt.Sprintf("unknown validation type %q", v.Type)
	}

	return result
}

func (r *Runner) runNotNull(ctx context.Context, v model.Validation, result *model.ValidationResult) {
	count, err := r.store.CountNull(ctx, v.TableName, v.ColumnName)
	if err != nil {
		result.Pass = false
		result.Message = err.Error()
		return
	}
	result.Pass = count == 0
	if !result.Pass {
		result.Message = fmt.Sprintf("%d null value(s) found", count)
	}
}

func (r *Runner) runRange(ctx context.Context, v model.Validation, result *model.ValidationResult) {
	min, max, err := parseRangeParams(v.Params)
	if err != nil {
		result.Pass = false
		result.Message = err.Error()
		return
	}
	count, err := r.store.CountOutOfRange(ctx, v.TableName, v.ColumnName, min, max)
	if err != nil {
		result.Pass = false
		result.Message = err.Error()
		return
	}
	result.Pass = count == 0
	if !result.Pass {
		result.Message = fmt.Sprintf("%d value(s) out of range [%v, %v]", count, min, max)
	}
}

func (r *Runner) runRegex(ctx context.Context, v model.Validation, result *model.ValidationResult) {
	pattern, err := regexp.Compile(v.Params)
	if err != nil {
		result.Pass = false
		result.Message = fmt.Sprintf("invalid regex pattern: %v", err)
		return
	}

	values, err := r.store.SampleNonNull(ctx, v.TableName, v.ColumnName, r.sampleLimit)
	if err != nil {
		result.Pass = false
		result.Message = err.Error()
		return
	}

	for _, val := range values {
		if !pattern.MatchString(val) {
			result.Pass = false
			result.Message = fmt.Sprintf("value %q does not match pattern %q", val, v.Params)
			return
		}
	}
	result.Pass = true
}

func (r *Runner) runForeignKey(ctx context.Context, v model.Validation, result *model.ValidationResult) {
	refTable, refColumn, err := parseForeignKeyParams(v.Params)
	if err != nil {
		result.Pass = false
		result.Message = err.Error()
		return
	}
	count, err := r.store.CountOrphans(ctx, v.TableName, v.ColumnName, refTable, refColumn)
	if err != nil {
		result.Pass = false
		result.Message = err.Error()
		return
	}
	result.Pass = count == 0
	if !result.Pass {
		result.Message = fmt.Sprintf("%d orphaned row(s) with no match in %s.%s", count, refTable, refColumn)
	}
}

func parseRangeParams(params string) (min, max float64, err error) {
	parts := strings.SplitN(params, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("range params must be \"min,max\", got %q", params)
	}
	min, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range min: %w", err)
	}
	max, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range max: %w", err)
	}
	return min, max, nil
}

func parseForeignKeyParams(params string) (refTable, refColumn string, err error) {
	parts := strings.SplitN(params, ",", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("foreign key params must be \"ref_table,ref_column\", got %q", params)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}
