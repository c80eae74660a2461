package sqlscan

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/relaydev/relay/internal/pipeline"
)

// The scanner finds SQL embedded in Go source: string literals whose content
// starts with a SQL keyword and parses as PostgreSQL. Parsing with the real
// grammar keeps lookalikes ("SELECT * from the dropdown") out of the result.

var sqlKeywords = []string{"select", "insert", "update", "delete", "with"}

var funcDecl = regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?([A-Za-z0-9_]+)\s*\(`)

// literal is a string literal found in a source file.
type literal struct {
	text      string
	lineStart int
	lineEnd   int
}

// ScanFiles scans the given workspace-relative Go files and returns every
// valid SQL query found, in file order.
func ScanFiles(workspacePath string, files []string) ([]pipeline.QueryInfo, error) {
	var queries []pipeline.QueryInfo
	for _, rel := range files {
		if filepath.Ext(rel) != ".go" || strings.HasSuffix(rel, "_test.go") {
			continue
		}
		abs := filepath.Join(workspacePath, rel)
		found, err := ScanFile(abs)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for i := range found {
			found[i].FilePath = rel
		}
		queries = append(queries, found...)
	}
	return queries, nil
}

// ScanFile scans one Go source file. The returned FilePath fields hold the
// path as given.
func ScanFile(path string) ([]pipeline.QueryInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")

	literals := collectLiterals(lines)

	var queries []pipeline.QueryInfo
	for _, lit := range literals {
		sql := strings.TrimSpace(lit.text)
		if !looksLikeSQL(sql) {
			continue
		}
		if _, err := pg_query.Parse(sql); err != nil {
			continue
		}
		queries = append(queries, pipeline.QueryInfo{
			FilePath:     path,
			FunctionName: enclosingFunc(lines, lit.lineStart),
			LineStart:    lit.lineStart,
			LineEnd:      lit.lineEnd,
			Query:        sql,
		})
	}
	return queries, nil
}

// looksLikeSQL is the cheap prefilter run before the real parser.
func looksLikeSQL(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range sqlKeywords {
		if strings.HasPrefix(lower, kw+" ") || strings.HasPrefix(lower, kw+"\n") || strings.HasPrefix(lower, kw+"\t") {
			return true
		}
	}
	return false
}

// collectLiterals walks the file line by line, tracking whether the cursor
// is inside a raw string, an interpreted string, or a line comment. Raw
// strings may span lines; interpreted strings never do.
func collectLiterals(lines []string) []literal {
	var out []literal

	inRaw := false
	var raw strings.Builder
	rawStart := 0

	for ln, line := range lines {
		i := 0
		for i < len(line) {
			c := line[i]

			if inRaw {
				if c == '`' {
					inRaw = false
					out = append(out, literal{text: raw.String(), lineStart: rawStart, lineEnd: ln + 1})
					raw.Reset()
				} else {
					raw.WriteByte(c)
				}
				i++
				continue
			}

			switch c {
			case '`':
				inRaw = true
				rawStart = ln + 1
				i++
			case '"':
				text, next, ok := scanInterpreted(line, i)
				if !ok {
					i = len(line)
					break
				}
				out = append(out, literal{text: text, lineStart: ln + 1, lineEnd: ln + 1})
				i = next
			case '\'':
				_, next, ok := scanRune(line, i)
				if !ok {
					i = len(line)
					break
				}
				i = next
			case '/':
				if i+1 < len(line) && line[i+1] == '/' {
					i = len(line)
				} else {
					i++
				}
			default:
				i++
			}
		}
		if inRaw {
			raw.WriteByte('\n')
		}
	}
	return out
}

// scanInterpreted consumes a double-quoted literal starting at lines[start]
// and returns its unquoted content and the index after the closing quote.
func scanInterpreted(line string, start int) (string, int, bool) {
	for i := start + 1; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case '"':
			text, err := strconv.Unquote(line[start : i+1])
			if err != nil {
				return "", i + 1, false
			}
			return text, i + 1, true
		}
	}
	return "", len(line), false
}

// scanRune consumes a rune literal starting at line[start].
func scanRune(line string, start int) (string, int, bool) {
	for i := start + 1; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case '\'':
			return line[start : i+1], i + 1, true
		}
	}
	return "", len(line), false
}

// enclosingFunc returns the name of the nearest function declaration at or
// above the given 1-based line, or empty when the literal sits outside any
// function.
func enclosingFunc(lines []string, lineStart int) string {
	for i := lineStart - 1; i >= 0; i-- {
		if i >= len(lines) {
			continue
		}
		if m := funcDecl.FindStringSubmatch(lines[i]); m != nil {
			return m[1]
		}
	}
	return ""
}

// Describe renders a short human-readable location for a query.
func Describe(q pipeline.QueryInfo) string {
	loc := fmt.Sprintf("%s:%d", q.FilePath, q.LineStart)
	if q.FunctionName != "" {
		loc += " (" + q.FunctionName + ")"
	}
	return loc
}
