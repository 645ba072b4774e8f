package where

import (
	"strings"
)

type parser struct {
	input  string
	tokens []token
	pos    int
	clause *WhereClause
	parts  []string
}

// Parse 解析过滤表达式
//
//	filter    = condition { ("AND" | "OR") condition } [ "ORDER" "BY" order { "," order } ]
//	condition = field ( operator | word ) literal
//	order     = field [ "ASC" | "DESC" ]
func Parse(filter string) (*WhereClause, error) {
	if strings.TrimSpace(filter) == "" {
		return nil, &ParseError{Reason: "empty filter"}
	}

	tokens, err := tokenize(filter)
	if err != nil {
		return nil, err
	}

	p := &parser{input: filter, tokens: tokens, clause: &WhereClause{}}
	if err := p.parse(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for i, part := range p.parts {
		if i > 0 && part != "," {
			sb.WriteByte(' ')
		}
		sb.WriteString(part)
	}
	p.clause.Template = sb.String()
	return p.clause, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

// fragmentFrom 从某个记号开始到下一个记号结束的源文本
func (p *parser) fragmentFrom(t token) string {
	end := len(p.input)
	if p.pos < len(p.tokens) {
		end = p.tokens[p.pos].offset + len(p.tokens[p.pos].text)
	}
	return strings.TrimSpace(p.input[t.offset:end])
}

func (p *parser) parse() error {
	for {
		if err := p.parseCondition(); err != nil {
			return err
		}

		t, ok := p.peek()
		if !ok {
			return nil
		}
		switch {
		case t.isKeyword("AND") || t.isKeyword("OR"):
			p.pos++
			if _, ok := p.peek(); !ok {
				return &ParseError{Fragment: t.text, Offset: t.offset, Reason: "dangling connector"}
			}
			p.clause.Connectors = append(p.clause.Connectors, strings.ToUpper(t.text))
			p.parts = append(p.parts, t.text)
		case t.isKeyword("ORDER"):
			return p.parseOrderBy()
		default:
			return &ParseError{Fragment: t.text, Offset: t.offset, Reason: "unexpected token"}
		}
	}
}

func (p *parser) parseCondition() error {
	name, ok := p.next()
	if !ok {
		return &ParseError{Fragment: p.input, Reason: "missing condition"}
	}
	if name.kind != tokenIdent {
		return &ParseError{Fragment: name.text, Offset: name.offset, Reason: "expected field name"}
	}

	op, ok := p.next()
	if ok && op.kind == tokenIdent && p.wordOperator() {
		op.text = strings.ToUpper(op.text)
	} else if !ok || op.kind != tokenOperator {
		if ok {
			p.pos--
		}
		return &ParseError{Fragment: p.fragmentFrom(name), Offset: name.offset, Reason: "missing operator"}
	}

	value, ok := p.next()
	if !ok || !value.isLiteral() {
		if ok {
			p.pos--
		}
		return &ParseError{Fragment: p.fragmentFrom(name), Offset: name.offset, Reason: "missing value"}
	}

	p.clause.Fields = append(p.clause.Fields, name.text)
	p.clause.Operators = append(p.clause.Operators, op.text)
	p.clause.Values = append(p.clause.Values, value.value)
	p.parts = append(p.parts, name.text, op.text, Placeholder)
	return nil
}

// wordOperator 字段名后是单词且紧跟字面量时把单词当作运算符，例如 LIKE
// 语法上保留，Compile 不支持时报错
func (p *parser) wordOperator() bool {
	t, ok := p.peek()
	return ok && t.isLiteral()
}

func (p *parser) parseOrderBy() error {
	order, _ := p.next()
	by, ok := p.next()
	if !ok || !by.isKeyword("BY") {
		return &ParseError{Fragment: p.fragmentFrom(order), Offset: order.offset, Reason: "expected BY after ORDER"}
	}
	p.parts = append(p.parts, order.text, by.text)

	for {
		name, ok := p.next()
		if !ok || name.kind != tokenIdent {
			return &ParseError{Fragment: p.fragmentFrom(order), Offset: order.offset, Reason: "missing order by field"}
		}
		p.parts = append(p.parts, name.text)
		item := OrderBy{Field: name.text}

		t, ok := p.next()
		if ok && (t.isKeyword("ASC") || t.isKeyword("DESC")) {
			item.Desc = t.isKeyword("DESC")
			p.parts = append(p.parts, t.text)
			t, ok = p.next()
		}
		p.clause.OrderBy = append(p.clause.OrderBy, item)

		if !ok {
			return nil
		}
		if t.kind != tokenComma {
			return &ParseError{Fragment: t.text, Offset: t.offset, Reason: "unexpected token"}
		}
		p.parts = append(p.parts, t.text)
	}
}
