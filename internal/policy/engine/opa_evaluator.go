// Package engine evaluates deployment constraint policies with OPA Rego.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"x402-delegation/backend/internal/capability/domain"
	"x402-delegation/backend/internal/policy/repository"
)

const denyQuery = "data.x402.constraints.deny"

// Built-in rules. Extra modules from the repository join the same package and add deny messages.
const defaultRegoPolicy = `package x402.constraints

deny contains msg if {
	limit := input.token.constraints.resource_limits.max_data_size
	limit > 0
	input.request.data_size > limit
	msg := sprintf("request data size %d exceeds max_data_size %d", [input.request.data_size, limit])
}
`

// RequestFacts is the request side of the policy input.
type RequestFacts struct {
	Operation string `json:"operation"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	IP        string `json:"ip"`
	DataSize  int64  `json:"data_size"`
	Region    string `json:"region,omitempty"`
}

// Input is the document evaluated as input by the constraint policy.
type Input struct {
	Token   *domain.CapabilityToken `json:"token"`
	Request RequestFacts            `json:"request"`
	Now     int64                   `json:"now"`
}

// OPAEvaluator evaluates data.x402.constraints.deny against the built-in and repository policies.
type OPAEvaluator struct {
	policyRepo repository.Repository

	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
}

// NewOPAEvaluator returns an OPA-based constraint evaluator and compiles its policies.
// A repository failure or a module that does not compile is logged and the built-in policy is used alone.
func NewOPAEvaluator(ctx context.Context, policyRepo repository.Repository) *OPAEvaluator {
	e := &OPAEvaluator{policyRepo: policyRepo}
	if err := e.Reload(ctx); err != nil {
		log.Printf("policy: %v, using built-in policy only", err)
	}
	return e
}

// Reload recompiles the policy set from the repository.
func (e *OPAEvaluator) Reload(ctx context.Context) error {
	modules := map[string]string{"policy_0.rego": defaultRegoPolicy}
	var loadErr error
	if e.policyRepo != nil {
		policies, err := e.policyRepo.ListEnabled(ctx)
		if err != nil {
			loadErr = fmt.Errorf("load policies: %w", err)
		}
		for i, p := range policies {
			if p.Enabled && p.Rules != "" {
				modules[fmt.Sprintf("policy_%d_%s", i+1, p.ID)] = p.Rules
			}
		}
	}
	prepared, err := prepare(ctx, modules)
	if err != nil {
		builtin, berr := prepare(ctx, map[string]string{"policy_0.rego": defaultRegoPolicy})
		if berr != nil {
			return fmt.Errorf("compile default policy: %w", berr)
		}
		e.swap(builtin)
		return fmt.Errorf("compile policies: %w", err)
	}
	e.swap(prepared)
	return loadErr
}

func (e *OPAEvaluator) swap(q *rego.PreparedEvalQuery) {
	e.mu.Lock()
	e.prepared = q
	e.mu.Unlock()
}

func prepare(ctx context.Context, modules map[string]string) (*rego.PreparedEvalQuery, error) {
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, err
	}
	q, err := rego.New(rego.Query(denyQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// HealthCheck verifies that the in-process OPA Rego engine can compile and evaluate the default policy.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	compiler, err := ast.CompileModules(map[string]string{"policy_0.rego": defaultRegoPolicy})
	if err != nil {
		return fmt.Errorf("compile default policy: %w", err)
	}
	minimalInput := map[string]interface{}{
		"token": map[string]interface{}{
			"constraints": map[string]interface{}{
				"resource_limits": map[string]interface{}{"max_data_size": 1},
			},
		},
		"request": map[string]interface{}{"data_size": 2},
	}
	rs, err := rego.New(rego.Query(denyQuery), rego.Compiler(compiler), rego.Input(minimalInput)).Eval(ctx)
	if err != nil {
		return fmt.Errorf("eval default policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// Deny evaluates the policy set and returns the sorted deny messages.
func (e *OPAEvaluator) Deny(ctx context.Context, in Input) ([]string, error) {
	e.mu.RLock()
	q := e.prepared
	e.mu.RUnlock()
	if q == nil {
		return nil, fmt.Errorf("policy not compiled")
	}
	doc, err := toDocument(in)
	if err != nil {
		return nil, fmt.Errorf("build input: %w", err)
	}
	rs, err := q.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}
	values, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

// toDocument converts in to a generic JSON document so Rego sees the wire field names.
func toDocument(in Input) (map[string]interface{}, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
