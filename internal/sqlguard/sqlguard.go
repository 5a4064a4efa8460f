// Package sqlguard restricts which categories of SQL statement may run through
// a given entry point.
//
// A Statement pairs SQL text with the Options that govern it. The guard itself
// does no work; the engine session calls Options.Verify before the text reaches
// DuckDB, so a disallowed statement is never prepared or executed.
package sqlguard

import (
	"fmt"
	"strings"

	"duckframe/internal/domain"
)

// Kind is the category of a SQL statement.
type Kind int

// Statement categories, mirroring the DDL / DML / statement split of the
// guard options.
const (
	KindQuery Kind = iota
	KindDML
	KindDDL
	KindStatement
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindDML:
		return "dml"
	case KindDDL:
		return "ddl"
	default:
		return "statement"
	}
}

// Options selects the statement categories that are allowed. Queries are
// always allowed.
type Options struct {
	AllowDDL        bool
	AllowDML        bool
	AllowStatements bool // utility statements and multi-statement bodies
}

// Restricted disallows DDL, DML and utility or multi-statement bodies.
func Restricted() Options {
	return Options{}
}

// Unrestricted allows every category.
func Unrestricted() Options {
	return Options{AllowDDL: true, AllowDML: true, AllowStatements: true}
}

// Statement is SQL text together with the policy it must satisfy.
type Statement struct {
	Text    string
	Options Options
}

// Guard wraps text with the Restricted policy.
func Guard(text string) Statement {
	return Statement{Text: text, Options: Restricted()}
}

// Verify returns nil when text satisfies o. A policy failure is a
// *domain.PolicyError; malformed text yields a plain error.
func (o Options) Verify(text string) error {
	stmts, err := split(text)
	if err != nil {
		return err
	}
	if len(stmts) > 1 && !o.AllowStatements {
		return &domain.PolicyError{Category: "multiple statements"}
	}
	for _, s := range stmts {
		kind := classify(s)
		var allowed bool
		switch kind {
		case KindQuery:
			allowed = true
		case KindDML:
			allowed = o.AllowDML
		case KindDDL:
			allowed = o.AllowDDL
		default:
			allowed = o.AllowStatements
		}
		if !allowed {
			return &domain.PolicyError{Category: kind.String(), Keyword: leadingKeyword(s)}
		}
	}
	return nil
}

// Verify checks s.Text against s.Options.
func (s Statement) Verify() error {
	return s.Options.Verify(s.Text)
}

// Classify returns the category of the first statement in text and the number
// of statements text contains.
func Classify(text string) (Kind, int, error) {
	stmts, err := split(text)
	if err != nil {
		return KindStatement, 0, err
	}
	return classify(stmts[0]), len(stmts), nil
}

// split tokenizes text into top-level statements. Empty statements between
// semicolons are dropped.
func split(text string) ([][]token, error) {
	l := newLexer(text)
	var (
		stmts [][]token
		cur   []token
	)
	for {
		tok := l.nextToken()
		switch tok.Type {
		case tokenUnterminated:
			return nil, fmt.Errorf("parse SQL: unterminated %s", tok.Literal)
		case tokenSemicolon, tokenEOF:
			if len(cur) > 0 {
				stmts = append(stmts, cur)
				cur = nil
			}
			if tok.Type == tokenEOF {
				if len(stmts) == 0 {
					return nil, fmt.Errorf("parse SQL: empty SQL")
				}
				return stmts, nil
			}
		default:
			cur = append(cur, tok)
		}
	}
}

var queryKeywords = map[string]bool{
	"select": true, "values": true, "table": true, "from": true,
	"describe": true, "desc": true, "show": true, "summarize": true,
	"pivot": true, "unpivot": true, "pivot_wider": true, "pivot_longer": true,
}

var dmlKeywords = map[string]bool{
	"insert": true, "update": true, "delete": true, "merge": true,
	"copy": true,
}

var ddlKeywords = map[string]bool{
	"create": true, "drop": true, "alter": true, "attach": true,
	"detach": true, "truncate": true, "comment": true, "rename": true,
}

// classify assigns a category to a single statement's tokens. Anything not
// recognised as a query, DML or DDL is a utility statement.
func classify(toks []token) Kind {
	i := 0
	for i < len(toks) && toks[i].Type == tokenLParen {
		i++
	}
	if i >= len(toks) || toks[i].Type != tokenWord {
		return KindStatement
	}

	kw := strings.ToLower(toks[i].Literal)
	switch {
	case kw == "with":
		return classifyWith(toks[i+1:])
	case kw == "explain":
		return classifyExplain(toks[i+1:])
	case queryKeywords[kw]:
		return KindQuery
	case dmlKeywords[kw]:
		return KindDML
	case ddlKeywords[kw]:
		return KindDDL
	default:
		return KindStatement
	}
}

// classifyWith finds the statement that follows a WITH clause: the first
// top-level keyword that can start a query or DML body. A CTE whose body is
// itself DML makes the whole statement DML.
func classifyWith(toks []token) Kind {
	depth := 0
	for i, t := range toks {
		switch t.Type {
		case tokenLParen:
			depth++
		case tokenRParen:
			depth--
		case tokenWord:
			kw := strings.ToLower(t.Literal)
			if depth != 0 {
				if dmlKeywords[kw] && i > 0 && toks[i-1].Type == tokenLParen {
					return KindDML
				}
				continue
			}
			if queryKeywords[kw] && kw != "table" {
				return KindQuery
			}
			if dmlKeywords[kw] {
				return KindDML
			}
		}
	}
	return KindStatement
}

// classifyExplain classifies the explained statement, since EXPLAIN ANALYZE
// executes it.
func classifyExplain(toks []token) Kind {
	i := 0
	for i < len(toks) && toks[i].Type == tokenWord {
		kw := strings.ToLower(toks[i].Literal)
		if kw != "analyze" && kw != "analyse" && kw != "verbose" {
			break
		}
		i++
	}
	if i < len(toks) && toks[i].Type == tokenLParen {
		// EXPLAIN (FORMAT json) ...
		depth := 0
		for ; i < len(toks); i++ {
			if toks[i].Type == tokenLParen {
				depth++
			} else if toks[i].Type == tokenRParen {
				depth--
				if depth == 0 {
					i++
					break
				}
			}
		}
	}
	if i >= len(toks) {
		return KindQuery
	}
	return classify(toks[i:])
}

func leadingKeyword(toks []token) string {
	for _, t := range toks {
		if t.Type == tokenWord {
			return t.Literal
		}
	}
	return ""
}

// ReferencesSchema reports whether text uses schema as a qualifier, as in
// information_schema.tables. Matches inside string literals and comments are
// ignored.
func ReferencesSchema(text, schema string) bool {
	l := newLexer(text)
	var prev token
	for {
		tok := l.nextToken()
		switch tok.Type {
		case tokenEOF, tokenUnterminated:
			return false
		case tokenOther:
			if tok.Literal == "." && (prev.Type == tokenWord || prev.Type == tokenQuotedIdent) &&
				strings.EqualFold(prev.Literal, schema) {
				return true
			}
		}
		prev = tok
	}
}
