package cqrs

import (
	"errors"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
)

// Códigos estables de error que cruzan la frontera de los buses. Los handlers
// nunca dejan escapar errores crudos de infraestructura: aquí se mapean a la
// taxonomía tipada antes de devolverse al llamante.
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeConcurrencyError = "CONCURRENCY_CONFLICT"
	CodeBusinessRule     = "BUSINESS_RULE_VIOLATION"
	CodeUnknownCommand   = "UNKNOWN_COMMAND_TYPE"
	CodeUnknownQuery     = "UNKNOWN_QUERY_TYPE"
	CodeInternalError    = "INTERNAL_ERROR"
)

// ErrorInfo es el error tipado que viaja dentro de CommandResult/QueryResult.
type ErrorInfo struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// classifyError traduce un error de dominio/infraestructura a ErrorInfo.
func classifyError(err error) *ErrorInfo {
	var validationErr *sharedDomain.ValidationError
	if errors.As(err, &validationErr) {
		return &ErrorInfo{
			Code:    CodeValidationError,
			Message: validationErr.Error(),
			Details: map[string]interface{}{"field": validationErr.Field},
		}
	}

	var concurrencyErr *sharedDomain.OptimisticConcurrencyError
	if errors.As(err, &concurrencyErr) {
		return &ErrorInfo{
			Code:    CodeConcurrencyError,
			Message: concurrencyErr.Error(),
			Details: map[string]interface{}{
				"aggregate_id":     concurrencyErr.AggregateID.String(),
				"expected_version": concurrencyErr.ExpectedVersion,
				"actual_version":   concurrencyErr.ActualVersion,
			},
		}
	}

	var ruleErr *sharedDomain.BusinessRuleError
	if errors.As(err, &ruleErr) {
		return &ErrorInfo{
			Code:    CodeBusinessRule,
			Message: ruleErr.Error(),
			Details: map[string]interface{}{"rule": ruleErr.Rule},
		}
	}

	if errors.Is(err, sharedDomain.ErrNotFound) {
		return &ErrorInfo{Code: CodeNotFound, Message: err.Error()}
	}

	if errors.Is(err, sharedDomain.ErrPermissionDenied) {
		return &ErrorInfo{Code: CodePermissionDenied, Message: err.Error()}
	}

	// Fallo de store/broker: se loguea con contexto completo en el bus y se
	// devuelve como fallo opaco.
	return &ErrorInfo{Code: CodeInternalError, Message: "internal error"}
}
