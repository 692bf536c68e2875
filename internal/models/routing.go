package models

type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
	OperatorIn          ConditionOperator = "in"
	OperatorNotIn       ConditionOperator = "not_in"
	OperatorContains    ConditionOperator = "contains"
	OperatorRegex       ConditionOperator = "regex"
)

// RuleCondition is one field/operator/value triple. All conditions of a rule
// must match for the rule to fire (implicit AND).
type RuleCondition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value"`
}

type RuleActionType string

const (
	ActionRouteToGateway  RuleActionType = "route_to_gateway"
	ActionRouteToGateways RuleActionType = "route_to_gateways"
	ActionApplyStrategy   RuleActionType = "apply_strategy"
	ActionReject          RuleActionType = "reject"
)

type RuleAction struct {
	Type       RuleActionType `json:"type"`
	GatewayID  string         `json:"gatewayId,omitempty"`
	GatewayIDs []string       `json:"gatewayIds,omitempty"`
	Strategy   string         `json:"strategy,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// RoutingRule overrides default gateway selection when all its conditions
// match a payment. Rules are evaluated in descending priority order.
type RoutingRule struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Priority   int             `json:"priority"`
	Conditions []RuleCondition `json:"conditions"`
	Action     RuleAction      `json:"action"`
	IsActive   bool            `json:"isActive"`
}
