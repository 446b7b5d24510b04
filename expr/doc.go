// Package expr holds the expression model of the evaluator: tag queries,
// primitive aggregation expressions, subscriber final expressions, and the
// stack-language parser that turns a subscriber URI into a tree.
//
// Expressions are tagged variants with explicit kind enums; evaluation is a
// recursive function over the variant rather than method dispatch, which
// keeps the combination rules, in particular the intersection-on-missing-
// tag-set rule, centralized and auditable.
//
// The package is a pure data model: no I/O, no clocks, no transport. The
// window aggregator fills an Aggregates value and Eval reads it.
package expr
