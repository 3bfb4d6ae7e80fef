package expression

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

var allowedBinary = map[string]bool{
	"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
	"&&": true, "||": true, "and": true, "or": true,
	"+": true, "-": true, "*": true, "/": true,
}

var allowedUnary = map[string]bool{
	"!": true, "not": true, "-": true, "+": true,
}

// grammarChecker walks a parsed condition and records the first construct
// outside the rule grammar along with every variable it references.
type grammarChecker struct {
	idents map[string]struct{}
	err    error
}

func (g *grammarChecker) Visit(node *ast.Node) {
	if g.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		g.idents[n.Value] = struct{}{}
	case *ast.IntegerNode, *ast.FloatNode, *ast.StringNode, *ast.BoolNode:
	case *ast.UnaryNode:
		if !allowedUnary[n.Operator] {
			g.err = fmt.Errorf("operator %q is not allowed", n.Operator)
		}
	case *ast.BinaryNode:
		if !allowedBinary[n.Operator] {
			g.err = fmt.Errorf("operator %q is not allowed", n.Operator)
		}
	case *ast.CallNode, *ast.BuiltinNode:
		g.err = fmt.Errorf("function calls are not allowed")
	case *ast.MemberNode, *ast.ChainNode, *ast.SliceNode:
		g.err = fmt.Errorf("member and index access are not allowed")
	default:
		g.err = fmt.Errorf("unsupported construct %T", n)
	}
}

// checkGrammar parses expression and verifies it only uses literals,
// variables, comparisons, boolean logic and arithmetic. It returns the
// sorted names of referenced variables.
func checkGrammar(expression string) ([]string, error) {
	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, err
	}

	g := &grammarChecker{idents: make(map[string]struct{})}
	ast.Walk(&tree.Node, g)
	if g.err != nil {
		return nil, g.err
	}

	names := make([]string, 0, len(g.idents))
	for name := range g.idents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
