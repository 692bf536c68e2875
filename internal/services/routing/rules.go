package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/veltapay/payment-orchestrator/internal/models"
)

// fieldValue extracts a named field from the payment request for rule
// evaluation. Unknown fields fall through to the request metadata.
func fieldValue(req *models.PaymentRequest, field string) (any, bool) {
	switch field {
	case "amount":
		return req.Amount, true
	case "currency":
		return req.Currency, true
	case "country":
		return req.Country, true
	case "paymentMethodType":
		return req.PaymentMethodType, true
	case "customerId":
		return req.CustomerID, true
	case "correlationId":
		return req.CorrelationID, true
	}
	if v, ok := req.Metadata[field]; ok {
		return v, true
	}
	return nil, false
}

// matches evaluates one condition against the request. A missing field never
// matches.
func matches(cond models.RuleCondition, req *models.PaymentRequest) bool {
	value, ok := fieldValue(req, cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case models.OperatorEquals:
		return equal(value, cond.Value)
	case models.OperatorNotEquals:
		return !equal(value, cond.Value)
	case models.OperatorGreaterThan:
		a, b, ok := numericPair(value, cond.Value)
		return ok && a.GreaterThan(b)
	case models.OperatorLessThan:
		a, b, ok := numericPair(value, cond.Value)
		return ok && a.LessThan(b)
	case models.OperatorIn:
		return inList(value, cond.Value)
	case models.OperatorNotIn:
		return !inList(value, cond.Value)
	case models.OperatorContains:
		return strings.Contains(asString(value), asString(cond.Value))
	case models.OperatorRegex:
		re, err := regexp.Compile(asString(cond.Value))
		if err != nil {
			return false
		}
		return re.MatchString(asString(value))
	}
	return false
}

func equal(a, b any) bool {
	if x, y, ok := numericPair(a, b); ok {
		return x.Equal(y)
	}
	return asString(a) == asString(b)
}

func inList(value, list any) bool {
	switch items := list.(type) {
	case []string:
		for _, item := range items {
			if equal(value, item) {
				return true
			}
		}
	case []any:
		for _, item := range items {
			if equal(value, item) {
				return true
			}
		}
	}
	return false
}

func numericPair(a, b any) (decimal.Decimal, decimal.Decimal, bool) {
	x, ok := asDecimal(a)
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}
	y, ok := asDecimal(b)
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}
	return x, y, true
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	}
	return decimal.Zero, false
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case decimal.Decimal:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
