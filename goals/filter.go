package goals

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// FilterSet compiles and caches the CEL filter expressions attached to
// event patterns. Compiled programs are shared across evaluation passes;
// compilation errors surface as per-rule configuration errors.
type FilterSet struct {
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

// NewFilterSet builds a FilterSet with the event-field environment filters
// are checked against.
func NewFilterSet() (*FilterSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("magnitude", cel.DoubleType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("metadata", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &FilterSet{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// compile returns the cached program for expr, compiling on first use.
func (f *FilterSet) compile(expr string) (cel.Program, error) {
	f.mu.RLock()
	prog, ok := f.programs[expr]
	f.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := f.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prog, err := f.env.Program(ast, cel.CostLimit(1000000))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	f.mu.Lock()
	f.programs[expr] = prog
	f.mu.Unlock()
	return prog, nil
}

// Check validates that a pattern's filter compiles. Patterns without a
// filter always pass.
func (f *FilterSet) Check(p EventPattern) error {
	if p.Filter == "" {
		return nil
	}
	if _, err := f.compile(p.Filter); err != nil {
		return fmt.Errorf("invalid filter %q: %w", p.Filter, err)
	}
	return nil
}

// Matches reports whether ev satisfies the pattern: name must match, type
// must match when the pattern specifies one, and the filter (when present)
// must evaluate to true. Runtime evaluation errors count as a non-match.
func (f *FilterSet) Matches(p EventPattern, ev *NormalizedEvent) bool {
	if ev.EventName != p.Name {
		return false
	}
	if p.Type != "" && ev.EventType != p.Type {
		return false
	}
	if p.Filter == "" {
		return true
	}

	prog, err := f.compile(p.Filter)
	if err != nil {
		return false
	}

	magnitude := 0.0
	if ev.Magnitude != nil {
		magnitude = *ev.Magnitude
	}
	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	out, _, err := prog.Eval(map[string]any{
		"name":       ev.EventName,
		"type":       ev.EventType,
		"magnitude":  magnitude,
		"confidence": ev.Confidence,
		"metadata":   metadata,
	})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}
