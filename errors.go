package automation

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeRuleInvalid        = "RULE_INVALID"
	ErrCodeActionUnregistered = "ACTION_UNREGISTERED"
	ErrCodeConditionEval      = "CONDITION_EVAL_FAILED"
	ErrCodeExecutionConflict  = "EXECUTION_CONFLICT"
	ErrCodeActionFailed       = "ACTION_FAILED"
	ErrCodeActionTimeout      = "ACTION_TIMEOUT"
	ErrCodeStoreConflict      = "STORE_CONFLICT"
)

var (
	// ErrInvalidRuleDefinition rejects a rule at load time. Fatal to that rule
	// only; the registry keeps loading the remaining rules.
	ErrInvalidRuleDefinition = apperrors.New("invalid rule definition", apperrors.CategoryValidation).
					WithTextCode(ErrCodeRuleInvalid)
	// ErrUnregisteredAction flags a rule referencing an action id that has no
	// registered handler.
	ErrUnregisteredAction = apperrors.New("action not registered", apperrors.CategoryValidation).
				WithTextCode(ErrCodeActionUnregistered)
	// ErrConditionEvaluation marks a clause that could not be evaluated against
	// a snapshot. The dispatcher treats it as a non-match.
	ErrConditionEvaluation = apperrors.New("condition evaluation failed", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeConditionEval)
	// ErrExecutionConflict signals a second trigger for a (rule, correlation)
	// pair that already has a non-terminal execution.
	ErrExecutionConflict = apperrors.New("concurrent execution for pair", apperrors.CategoryConflict).
				WithTextCode(ErrCodeExecutionConflict)
	// ErrStoreConflict signals a lost claim or an illegal terminal transition.
	ErrStoreConflict = apperrors.New("execution store conflict", apperrors.CategoryConflict).
				WithTextCode(ErrCodeStoreConflict)
)

// NewRuleError builds an invalid-rule error carrying the offending rule name.
func NewRuleError(rule, message string, metadata map[string]any) error {
	err := ErrInvalidRuleDefinition.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	md := map[string]any{}
	if rule != "" {
		md["rule"] = rule
	}
	for k, v := range metadata {
		md[k] = v
	}
	if len(md) > 0 {
		err = err.WithMetadata(md)
	}
	return err
}

// NewConditionError wraps a clause evaluation failure.
func NewConditionError(message string, source error, metadata map[string]any) error {
	err := ErrConditionEvaluation.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode extracts the text code from a go-errors error, or "".
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsInvalidRule reports whether err is a load-time rule rejection.
func IsInvalidRule(err error) bool {
	code := ErrorCode(err)
	return code == ErrCodeRuleInvalid || code == ErrCodeActionUnregistered
}

// IsConditionError reports whether err is a condition evaluation failure.
func IsConditionError(err error) bool {
	return ErrorCode(err) == ErrCodeConditionEval
}

// IsConflict reports whether err is a duplicate-execution or claim conflict.
func IsConflict(err error) bool {
	code := ErrorCode(err)
	return code == ErrCodeExecutionConflict || code == ErrCodeStoreConflict
}
