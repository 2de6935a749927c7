package domain

import (
	"context"
	"fmt"
)

// Validator produces advisory check results for an assembly. Results never
// block a change.
type Validator interface {
	Name() string
	Validate(ctx context.Context, view AssemblyView) ([]CheckResult, error)
}

// Result aggregates the outcome of running the validation pipeline after a
// committed transaction.
type Result struct {
	CheckResults []CheckResult `json:"checkResults,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// Merge appends results and warnings from another result.
func (r *Result) Merge(other Result) {
	r.CheckResults = append(r.CheckResults, other.CheckResults...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Pipeline runs registered validators in registration order.
type Pipeline struct {
	validators []Validator
}

// NewPipeline constructs a pipeline with the given validators.
func NewPipeline(validators ...Validator) *Pipeline {
	return &Pipeline{validators: validators}
}

// Register appends a validator to the pipeline.
func (p *Pipeline) Register(v Validator) {
	p.validators = append(p.validators, v)
}

// Validators returns the registered validators.
func (p *Pipeline) Validators() []Validator {
	return append([]Validator(nil), p.validators...)
}

// Run executes every validator. A failing validator contributes a warning
// instead of results; the remaining validators still run. Only context
// cancellation aborts the run.
func (p *Pipeline) Run(ctx context.Context, view AssemblyView) (Result, error) {
	var combined Result
	if p == nil {
		return combined, nil
	}
	for _, v := range p.validators {
		if err := ctx.Err(); err != nil {
			return combined, err
		}
		results, err := v.Validate(ctx, view)
		if err != nil {
			combined.Warnings = append(combined.Warnings, fmt.Sprintf("%s: %v", v.Name(), err))
			continue
		}
		for _, r := range results {
			if r.Name == "" {
				r.Name = v.Name()
			}
			combined.CheckResults = append(combined.CheckResults, r.WithID())
		}
	}
	SortCheckResults(combined.CheckResults)
	return combined, nil
}
