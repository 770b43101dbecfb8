// Package policy evaluates admission rules for ask requests with OPA.
package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine prepares the deny query of the given policy module.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.zuvachat.ask.deny"),
		rego.Module("ask.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns the sorted reasons the input is denied. An empty result
// means the request is admitted.
func (e *Engine) Evaluate(ctx context.Context, input any) ([]string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	values, ok := results[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected deny result type %T", results[0].Expressions[0].Value)
	}

	reasons := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			reasons = append(reasons, s)
		}
	}
	sort.Strings(reasons)
	return reasons, nil
}

// DefaultPolicy rejects asks without a question or thread and caps their size.
const DefaultPolicy = `
package zuvachat.ask

max_question_length := 8000

max_thread_id_length := 200

deny contains "question is required" if {
	trim_space(object.get(input, "question", "")) == ""
}

deny contains "thread_id is required" if {
	trim_space(object.get(input, "thread_id", "")) == ""
}

deny contains msg if {
	count(input.question) > max_question_length
	msg := sprintf("question must be at most %d characters", [max_question_length])
}

deny contains msg if {
	count(input.thread_id) > max_thread_id_length
	msg := sprintf("thread_id must be at most %d characters", [max_thread_id_length])
}
`
