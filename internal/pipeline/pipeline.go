package pipeline

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	StepProcess  = "process"
	StepTrain    = "train"
	StepEvaluate = "evaluate"
	StepRegister = "register"
	StepDeploy   = "deploy"
)

// Definition is a pipeline as submitted by the user: a named DAG of steps.
type Definition struct {
	Name  string `yaml:"name" json:"name"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Step is one node of the pipeline DAG. With holds the step-type specific
// arguments, e.g. the dataset id or the training hyperparameters.
type Step struct {
	Name      string         `yaml:"name" json:"name"`
	Type      string         `yaml:"type" json:"type"`
	DependsOn []string       `yaml:"depends_on" json:"depends_on,omitempty"`
	With      map[string]any `yaml:"with" json:"with,omitempty"`
}

func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("pipeline has no name")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("pipeline %q has no steps", d.Name)
	}

	names := make(map[string]struct{}, len(d.Steps))
	for _, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("pipeline %q has a step with no name", d.Name)
		}
		if _, dup := names[step.Name]; dup {
			return fmt.Errorf("pipeline %q has duplicate step %q", d.Name, step.Name)
		}
		names[step.Name] = struct{}{}

		switch step.Type {
		case StepProcess, StepTrain, StepEvaluate, StepRegister, StepDeploy:
		default:
			return fmt.Errorf("step %q has unknown type %q", step.Name, step.Type)
		}
	}

	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.Name {
				return fmt.Errorf("step %q depends on itself", step.Name)
			}
			if _, ok := names[dep]; !ok {
				return fmt.Errorf("step %q depends on unknown step %q", step.Name, dep)
			}
		}
	}

	if _, err := d.TopoOrder(); err != nil {
		return err
	}

	return nil
}

// TopoOrder returns the steps in a dependency-respecting execution order.
// Ties are broken by step name so the order is stable across runs.
func (d *Definition) TopoOrder() ([]Step, error) {
	steps := make(map[string]Step, len(d.Steps))
	indegree := make(map[string]int, len(d.Steps))
	dependents := make(map[string][]string, len(d.Steps))

	for _, step := range d.Steps {
		steps[step.Name] = step
		indegree[step.Name] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.Name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]Step, 0, len(d.Steps))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, steps[name])

		var unblocked []string
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				unblocked = append(unblocked, next)
			}
		}
		sort.Strings(unblocked)
		ready = append(ready, unblocked...)
	}

	if len(order) != len(d.Steps) {
		return nil, fmt.Errorf("pipeline %q has a dependency cycle", d.Name)
	}

	return order, nil
}
