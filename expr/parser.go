package expr

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jmrinaldi/atlas/errors"
)

// ParseError is a structured parse failure carrying the subscriber's full
// URI and the underlying cause. Its rendered message is what parse-error
// diagnostics carry to the subscriber.
type ParseError struct {
	URI   string
	Cause error
}

// Error renders "invalid expression: <uri>: <cause>".
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid expression: %s: %v", e.URI, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error { return e.Cause }

// ParseQueryURI parses a subscriber's URI into a final expression. The query
// language is a comma-separated postfix stack language carried on the URI's
// `q` parameter, for example:
//
//	http://host/api/v1/subscribe?q=name,rps,:eq,:sum,(,node,),:by
//
// A bare query on top of the stack is coerced to its :sum aggregation, both
// at the end of input and as an operand of arithmetic words.
func ParseQueryURI(uri string) (*TimeSeriesExpr, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, &ParseError{URI: uri, Cause: fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)}
	}

	q := parsed.Query().Get("q")
	if q == "" {
		return nil, &ParseError{
			URI:   uri,
			Cause: fmt.Errorf("%w: missing q parameter", errors.ErrInvalidExpression),
		}
	}

	expr, err := parseQuery(q)
	if err != nil {
		return nil, &ParseError{URI: uri, Cause: err}
	}
	return expr, nil
}

// parseQuery runs the stack interpreter over the comma-separated words.
func parseQuery(q string) (*TimeSeriesExpr, error) {
	p := &parser{}

	tokens := strings.Split(q, ",")
	for _, token := range tokens {
		if err := p.step(token); err != nil {
			return nil, err
		}
	}

	if p.inList {
		return nil, fmt.Errorf("%w: unterminated list", errors.ErrUnmatchedParen)
	}
	if len(p.stack) != 1 {
		return nil, fmt.Errorf("%w: expected a single expression, found %d items",
			errors.ErrInvalidExpression, len(p.stack))
	}

	return p.popOperand()
}

type parser struct {
	stack  []any // string, []string, *Query, *TimeSeriesExpr
	inList bool
	list   []string
}

func (p *parser) step(token string) error {
	// List collection: between "(" and ")" every token is a bare value.
	if p.inList {
		if token == ")" {
			p.push(p.list)
			p.list = nil
			p.inList = false
			return nil
		}
		if strings.HasPrefix(token, ":") || token == "(" {
			return fmt.Errorf("%w: %q inside list", errors.ErrInvalidExpression, token)
		}
		p.list = append(p.list, token)
		return nil
	}

	switch token {
	case "(":
		p.inList = true
		p.list = []string{}
		return nil
	case ")":
		return fmt.Errorf("%w: ) without (", errors.ErrUnmatchedParen)

	case ":true":
		p.push(True())
		return nil
	case ":false":
		p.push(False())
		return nil

	case ":eq":
		v, err := p.popString(token)
		if err != nil {
			return err
		}
		k, err := p.popString(token)
		if err != nil {
			return err
		}
		p.push(Equal(k, v))
		return nil

	case ":has":
		k, err := p.popString(token)
		if err != nil {
			return err
		}
		p.push(Has(k))
		return nil

	case ":in":
		values, err := p.popList(token)
		if err != nil {
			return err
		}
		k, err := p.popString(token)
		if err != nil {
			return err
		}
		p.push(In(k, values))
		return nil

	case ":and", ":or":
		r, err := p.popQuery(token)
		if err != nil {
			return err
		}
		l, err := p.popQuery(token)
		if err != nil {
			return err
		}
		if token == ":and" {
			p.push(And(l, r))
		} else {
			p.push(Or(l, r))
		}
		return nil

	case ":not":
		q, err := p.popQuery(token)
		if err != nil {
			return err
		}
		p.push(Not(q))
		return nil

	case ":sum", ":max", ":min", ":count":
		q, err := p.popQuery(token)
		if err != nil {
			return err
		}
		p.push(DataLeaf(&DataExpr{Query: q, Op: aggregateOps[token]}))
		return nil

	case ":by":
		keys, err := p.popList(token)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return fmt.Errorf("%w: :by requires at least one key", errors.ErrInvalidExpression)
		}
		operand, err := p.popOperand()
		if err != nil {
			return err
		}
		if operand.Kind == KindData && !operand.Data.Grouped() {
			p.push(DataLeaf(operand.Data.WithGroupBy(keys)))
		} else {
			p.push(GroupBy(operand, keys))
		}
		return nil

	case ":add", ":sub", ":mul", ":div":
		rhs, err := p.popOperand()
		if err != nil {
			return err
		}
		lhs, err := p.popOperand()
		if err != nil {
			return err
		}
		p.push(Binary(binaryOps[token], lhs, rhs))
		return nil

	case ":time":
		field, err := p.popString(token)
		if err != nil {
			return err
		}
		if !IsTimeField(field) {
			return fmt.Errorf("%w: unknown time field %q", errors.ErrInvalidExpression, field)
		}
		p.push(TimeLeaf(field))
		return nil

	case ":avg":
		q, err := p.popQuery(token)
		if err != nil {
			return err
		}
		p.push(Binary(BinDiv,
			DataLeaf(&DataExpr{Query: q, Op: OpSum}),
			DataLeaf(&DataExpr{Query: q, Op: OpCount})))
		return nil

	case ":dist-avg":
		q, err := p.popQuery(token)
		if err != nil {
			return err
		}
		p.push(Binary(BinDiv,
			DataLeaf(&DataExpr{Query: And(Equal("statistic", "totalAmount"), q), Op: OpSum}),
			DataLeaf(&DataExpr{Query: And(Equal("statistic", "count"), q), Op: OpSum})))
		return nil
	}

	if strings.HasPrefix(token, ":") {
		return fmt.Errorf("%w: %q", errors.ErrUnknownWord, token)
	}

	// Bare value: operand for a later word.
	p.push(token)
	return nil
}

var aggregateOps = map[string]AggregateOp{
	":sum":   OpSum,
	":max":   OpMax,
	":min":   OpMin,
	":count": OpCount,
}

var binaryOps = map[string]BinaryOp{
	":add": BinAdd,
	":sub": BinSub,
	":mul": BinMul,
	":div": BinDiv,
}

func (p *parser) push(item any) {
	p.stack = append(p.stack, item)
}

func (p *parser) pop(word string) (any, error) {
	if len(p.stack) == 0 {
		return nil, fmt.Errorf("%w: %s", errors.ErrStackUnderflow, word)
	}
	item := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	return item, nil
}

func (p *parser) popString(word string) (string, error) {
	item, err := p.pop(word)
	if err != nil {
		return "", err
	}
	s, ok := item.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s expects a value, found %T", errors.ErrInvalidExpression, word, item)
	}
	return s, nil
}

func (p *parser) popList(word string) ([]string, error) {
	item, err := p.pop(word)
	if err != nil {
		return nil, err
	}
	list, ok := item.([]string)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects a list, found %T", errors.ErrInvalidExpression, word, item)
	}
	return list, nil
}

func (p *parser) popQuery(word string) (*Query, error) {
	item, err := p.pop(word)
	if err != nil {
		return nil, err
	}
	q, ok := item.(*Query)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects a query, found %T", errors.ErrInvalidExpression, word, item)
	}
	return q, nil
}

// popOperand pops a final-expression operand, coercing a bare query to its
// :sum aggregation.
func (p *parser) popOperand() (*TimeSeriesExpr, error) {
	item, err := p.pop("operand")
	if err != nil {
		return nil, err
	}
	switch v := item.(type) {
	case *TimeSeriesExpr:
		return v, nil
	case *Query:
		return DataLeaf(&DataExpr{Query: v, Op: OpSum}), nil
	default:
		return nil, fmt.Errorf("%w: expected an expression, found %T", errors.ErrInvalidExpression, item)
	}
}
