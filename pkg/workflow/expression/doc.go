// Package expression evaluates business rule conditions against submitted
// form data.
//
// Conditions are written in a closed grammar on top of expr-lang/expr:
//
//   - Variables: names from the evaluation context, such as amount or Amount
//   - Literals: integers, floats, quoted strings, true and false
//   - Comparisons: ==, !=, <, >, <=, >=
//   - Boolean logic: &&, ||, !
//   - Arithmetic: +, -, *, /
//
// Function calls, member and index access, builtins, and every other expr
// construct are rejected when the condition is compiled. Referencing a name
// that is absent from the context is an evaluation failure.
//
// Example conditions:
//
//	amount > 1000
//	amount * 2 >= limit && priority == "high"
//	!(category == "travel")
//
// The evaluator keeps a bounded cache of compiled conditions and is safe for
// concurrent use.
package expression
