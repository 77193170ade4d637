package database

import (
	"strings"
)

// QuoteLiteral renders a string as a single quoted SQL literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Render joins statements into one script. Statements guarded by a query the
// script cannot express carry the guard as a comment.
func Render(statements []Statement) string {
	var sb strings.Builder

	for i := range statements {
		if statements[i].SkipIf != "" {
			sb.WriteString("-- skip when positive: ")
			sb.WriteString(statements[i].SkipIf)
			sb.WriteString("\n")
		}

		sb.WriteString(statements[i].SQL)

		if !strings.HasSuffix(statements[i].SQL, ";") {
			sb.WriteString(";")
		}

		if i < len(statements)-1 {
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// SkipWhenAbsent turns a counting query into a guard that skips a statement
// when nothing was counted, for destructive statements.
func SkipWhenAbsent(countQuery string) string {
	return "SELECT CASE WHEN (" + countQuery + ") = 0 THEN 1 ELSE 0 END"
}

// JoinIdents quotes every name and joins them into a column list.
func JoinIdents(quote func(string) string, names []string) string {
	quoted := make([]string, len(names))
	for i := range names {
		quoted[i] = quote(names[i])
	}

	return strings.Join(quoted, ", ")
}
