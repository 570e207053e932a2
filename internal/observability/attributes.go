// Package observability provides metrics and logging setup.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod   = "method"
	attrPath     = "path"
	attrStatus   = "status"
	attrProvider = "provider"
	attrOutcome  = "outcome"
)

// Dispatch outcomes
const (
	OutcomeSuccess     = "success"
	OutcomeProvision   = "provision_failed"
	OutcomeReadiness   = "readiness_timeout"
	OutcomeForward     = "forward_failed"
	OutcomeBreakerOpen = "breaker_open"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(route string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(route))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func providerAttr(provider string) attribute.KeyValue {
	return attribute.String(attrProvider, provider)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

// normalizePath collapses unmatched routes so scanners can't inflate cardinality.
func normalizePath(route string) string {
	if route == "" {
		return "unmatched"
	}
	return route
}
