package parser

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// QueryType represents the type of SQL query
type QueryType int

const (
	QueryUnknown QueryType = iota
	QuerySelect
	QueryInsert
	QueryUpdate
	QueryDelete
	QueryShow // SHOW, EXPLAIN, DESCRIBE and PRAGMA
)

// String returns the metrics label of the query type
func (t QueryType) String() string {
	switch t {
	case QuerySelect:
		return "select"
	case QueryInsert:
		return "insert"
	case QueryUpdate:
		return "update"
	case QueryDelete:
		return "delete"
	case QueryShow:
		return "show"
	default:
		return "unknown"
	}
}

// ParsedQuery contains extracted information from a SQL query
type ParsedQuery struct {
	Type      QueryType
	Returning bool              // Write statement with a RETURNING clause
	Hints     map[string]string // Key/value pairs of the leading hint comment
	Query     string            // Query without the hint comment
}

var (
	// Match a leading /* key:value ... */ comment
	hintRegex = regexp.MustCompile(`^\s*/\*\s*((?:[a-zA-Z_][a-zA-Z0-9_]*:\S+\s*)+)\*/\s*`)
	hintPair  = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*):(\S+)`)
	// Match the leading keyword once comments are skipped
	keywordRegex   = regexp.MustCompile(`^[A-Za-z]+`)
	returningRegex = regexp.MustCompile(`(?i)\bRETURNING\b`)
)

// Parse extracts metadata from a SQL query
func Parse(query string) *ParsedQuery {
	p := &ParsedQuery{
		Query: query,
		Type:  QueryUnknown,
		Hints: map[string]string{},
	}

	// Extract hints from the leading comment
	if loc := hintRegex.FindStringSubmatchIndex(query); loc != nil {
		for _, kv := range hintPair.FindAllStringSubmatch(query[loc[2]:loc[3]], -1) {
			p.Hints[kv[1]] = kv[2]
		}
		p.Query = strings.TrimSpace(query[loc[1]:])
	}

	// Determine query type from the first keyword
	body := skipComments(p.Query)
	switch strings.ToUpper(keywordRegex.FindString(body)) {
	case "SELECT", "WITH", "VALUES", "TABLE":
		p.Type = QuerySelect
	case "INSERT", "REPLACE":
		p.Type = QueryInsert
	case "UPDATE":
		p.Type = QueryUpdate
	case "DELETE":
		p.Type = QueryDelete
	case "SHOW", "EXPLAIN", "DESCRIBE", "DESC", "PRAGMA":
		p.Type = QueryShow
	}
	p.Returning = p.IsWritable() && returningRegex.MatchString(body)

	return p
}

// skipComments drops leading whitespace, comments and opening parentheses
func skipComments(s string) string {
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		switch {
		case strings.HasPrefix(s, "--"), strings.HasPrefix(s, "#"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s[2:], "*/")
			if i < 0 {
				return ""
			}
			s = s[i+4:]
		case strings.HasPrefix(s, "("):
			s = s[1:]
		default:
			return s
		}
	}
}

// IsQuery returns true if the statement returns rows
func (p *ParsedQuery) IsQuery() bool {
	return p.Type == QuerySelect || p.Type == QueryShow || p.Returning
}

// IsWritable returns true if query is a write operation (INSERT, UPDATE, DELETE)
func (p *ParsedQuery) IsWritable() bool {
	return p.Type == QueryInsert ||
		p.Type == QueryUpdate ||
		p.Type == QueryDelete
}

// WithHint sets key to value in the leading hint comment of query, adding
// the comment when there is none. Keys are written in sorted order.
func WithHint(query, key, value string) string {
	p := Parse(query)
	p.Hints[key] = value
	keys := make([]string, 0, len(p.Hints))
	for k := range p.Hints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("/* ")
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(p.Hints[k])
		b.WriteByte(' ')
	}
	b.WriteString("*/ ")
	b.WriteString(p.Query)
	return b.String()
}
