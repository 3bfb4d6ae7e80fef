package expression

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of compiled conditions kept by New.
const DefaultCacheSize = 512

// SyntaxError reports a condition that does not parse or that uses a
// construct outside the rule grammar.
type SyntaxError struct {
	Expression string
	Err        error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("malformed expression %q: %v", e.Expression, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// EvalError reports a well-formed condition that could not be evaluated,
// such as one referencing an unknown variable or mixing incompatible types.
type EvalError struct {
	Expression string
	Err        error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluating %q: %v", e.Expression, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

type compiled struct {
	program *vm.Program
	idents  []string
}

// Evaluator evaluates conditions against a flat variable map.
// Compiled conditions are cached in a fixed-size LRU.
type Evaluator struct {
	cache *lru.Cache[string, *compiled]
}

// New creates an evaluator with the default cache size.
func New() *Evaluator {
	e, _ := NewWithCacheSize(DefaultCacheSize)
	return e
}

// NewWithCacheSize creates an evaluator that keeps at most size compiled
// conditions.
func NewWithCacheSize(size int) (*Evaluator, error) {
	cache, err := lru.New[string, *compiled](size)
	if err != nil {
		return nil, fmt.Errorf("creating expression cache: %w", err)
	}
	return &Evaluator{cache: cache}, nil
}

// Evaluate evaluates a condition against vars and returns its boolean result.
// An empty condition evaluates to true.
//
// Returns *SyntaxError when the condition is malformed and *EvalError when it
// references a variable missing from vars, fails at runtime, or does not
// produce a boolean.
func (e *Evaluator) Evaluate(expression string, vars map[string]any) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}

	c, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	for _, name := range c.idents {
		if _, ok := vars[name]; !ok {
			return false, &EvalError{Expression: expression, Err: fmt.Errorf("unknown variable %q", name)}
		}
	}

	env := make(map[string]any, len(c.idents))
	for _, name := range c.idents {
		env[name] = vars[name]
	}

	result, err := expr.Run(c.program, env)
	if err != nil {
		return false, &EvalError{Expression: expression, Err: err}
	}

	b, ok := result.(bool)
	if !ok {
		return false, &EvalError{
			Expression: expression,
			Err:        fmt.Errorf("expression must return boolean, got %T (%v)", result, result),
		}
	}
	return b, nil
}

// Validate reports whether expression is well-formed without evaluating it.
func (e *Evaluator) Validate(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	_, err := e.compile(expression)
	return err
}

func (e *Evaluator) compile(expression string) (*compiled, error) {
	if c, ok := e.cache.Get(expression); ok {
		return c, nil
	}

	idents, err := checkGrammar(expression)
	if err != nil {
		return nil, &SyntaxError{Expression: expression, Err: err}
	}

	program, err := expr.Compile(expression, expr.DisableAllBuiltins())
	if err != nil {
		return nil, &SyntaxError{Expression: expression, Err: err}
	}

	c := &compiled{program: program, idents: idents}
	e.cache.Add(expression, c)
	return c, nil
}

// ClearCache clears the compiled condition cache.
// This is mainly useful for testing.
func (e *Evaluator) ClearCache() {
	e.cache.Purge()
}

// CacheSize returns the number of cached conditions.
func (e *Evaluator) CacheSize() int {
	return e.cache.Len()
}
