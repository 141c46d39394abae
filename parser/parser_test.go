package parser

import (
	"testing"
)

func TestParse_QueryType(t *testing.T) {
	tests := []struct {
		query    string
		expected QueryType
	}{
		{"SELECT * FROM users", QuerySelect},
		{"select id from users", QuerySelect},
		{"INSERT INTO users (name) VALUES ('test')", QueryInsert},
		{"UPDATE users SET name = 'test'", QueryUpdate},
		{"DELETE FROM users WHERE id = 1", QueryDelete},
		{"SHOW TABLES", QueryShow},
		{"/* snapshot_ts:5 */ SELECT 1", QuerySelect},
		// Only the first keyword counts
		{"-- update stats\nSELECT 1", QuerySelect},
		{"/* delete later */ SELECT 1", QuerySelect},
		{"# insert\n  select 1", QuerySelect},
		{"(SELECT 1) UNION (SELECT 2)", QuerySelect},
		{"SELECT updated_at FROM t_order", QuerySelect},
		{"WITH o AS (SELECT 1) SELECT * FROM o", QuerySelect},
		{"VALUES (7)", QuerySelect},
		{"REPLACE INTO t VALUES (1)", QueryInsert},
		{"PRAGMA table_info(t_order)", QueryShow},
		{"EXPLAIN SELECT 1", QueryShow},
		{"CREATE TABLE t_update (id INT)", QueryUnknown},
		{"-- only a comment", QueryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := Parse(tt.query)
			if p.Type != tt.expected {
				t.Errorf("Parse(%q).Type = %v, want %v", tt.query, p.Type, tt.expected)
			}
		})
	}
}

func TestParse_Hints(t *testing.T) {
	tests := []struct {
		query         string
		expectedHints map[string]string
		expectedQuery string
	}{
		{"/* snapshot_ts:60 */ SELECT * FROM users", map[string]string{"snapshot_ts": "60"}, "SELECT * FROM users"},
		{"/*snapshot_ts:30*/ SELECT 1", map[string]string{"snapshot_ts": "30"}, "SELECT 1"},
		{"/* a:1 b:src/x.go */ DELETE FROM t", map[string]string{"a": "1", "b": "src/x.go"}, "DELETE FROM t"},
		{"SELECT * FROM users", map[string]string{}, "SELECT * FROM users"},
		// Not a hint: plain comment text
		{"/* just a comment */ SELECT 1", map[string]string{}, "/* just a comment */ SELECT 1"},
		// Only a leading comment is a hint
		{"SELECT 1 /* k:v */", map[string]string{}, "SELECT 1 /* k:v */"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := Parse(tt.query)
			if len(p.Hints) != len(tt.expectedHints) {
				t.Fatalf("Parse(%q).Hints = %v, want %v", tt.query, p.Hints, tt.expectedHints)
			}
			for k, v := range tt.expectedHints {
				if p.Hints[k] != v {
					t.Errorf("Parse(%q).Hints[%q] = %q, want %q", tt.query, k, p.Hints[k], v)
				}
			}
			if p.Query != tt.expectedQuery {
				t.Errorf("Parse(%q).Query = %q, want %q", tt.query, p.Query, tt.expectedQuery)
			}
		})
	}
}

func TestParsedQuery_IsWritable(t *testing.T) {
	tests := []struct {
		query    string
		writable bool
		isQuery  bool
	}{
		{"SELECT id FROM users", false, true},
		{"INSERT INTO users VALUES (1)", true, false},
		{"UPDATE users SET a = 1", true, false},
		{"DELETE FROM users", true, false},
		{"CREATE TABLE t (id INT)", false, false},
		{"SHOW TABLES", false, true},
		{"INSERT INTO t (a) VALUES (1) RETURNING id", true, true},
		{"update t set a = 1 returning a", true, true},
		{"SELECT returning FROM t", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := Parse(tt.query)
			if p.IsWritable() != tt.writable {
				t.Errorf("Parse(%q).IsWritable() = %v, want %v", tt.query, p.IsWritable(), tt.writable)
			}
			if p.IsQuery() != tt.isQuery {
				t.Errorf("Parse(%q).IsQuery() = %v, want %v", tt.query, p.IsQuery(), tt.isQuery)
			}
		})
	}
}

func TestWithHint(t *testing.T) {
	tests := []struct {
		query, key, value, expected string
	}{
		{"SELECT 1", "snapshot_ts", "7", "/* snapshot_ts:7 */ SELECT 1"},
		{"/* snapshot_ts:3 */ SELECT 1", "snapshot_ts", "7", "/* snapshot_ts:7 */ SELECT 1"},
		{"/* trace:abc */ SELECT 1", "snapshot_ts", "7", "/* snapshot_ts:7 trace:abc */ SELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := WithHint(tt.query, tt.key, tt.value)
			if got != tt.expected {
				t.Errorf("WithHint(%q) = %q, want %q", tt.query, got, tt.expected)
			}
			if Parse(got).Hints[tt.key] != tt.value {
				t.Errorf("hint %q not parsed back from %q", tt.key, got)
			}
		})
	}
}

func TestQueryType_String(t *testing.T) {
	if QueryInsert.String() != "insert" || QueryShow.String() != "show" || QueryUnknown.String() != "unknown" {
		t.Errorf("unexpected labels %q %q %q", QueryInsert, QueryShow, QueryUnknown)
	}
}
