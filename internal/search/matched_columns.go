package search

import "strings"

// matchColumns lists the column detect_matched_columns reports for every
// result, whatever the query. "body" is unconditional: a result's Email
// projection carries only the 200 character snippet, never the full body,
// so a body hit can never be locally disproved from it.
var matchColumns = []string{"body"}

// annotate fills in MatchedColumns for each result by testing the raw
// query's bare terms against the row's own subject/sender/recipients
// text. This is necessarily an approximation (FTS5 doesn't report which
// column satisfied a MATCH), so it only adds a column when a term
// plausibly appears there, and always keeps "body" since that can't be
// ruled out from a truncated snippet.
func annotate(results []Result, rawQuery string) {
	terms := queryTerms(rawQuery)
	for i := range results {
		results[i].MatchedColumns = detectMatchedColumns(terms, results[i].Email.Subject, results[i].Email.Sender, results[i].Email.Recipients)
	}
}

func detectMatchedColumns(terms []string, subject, sender, recipients string) []string {
	cols := map[string]bool{"body": true}
	if len(terms) == 0 {
		return []string{"body"}
	}
	for _, t := range terms {
		if containsFold(subject, t) {
			cols["subject"] = true
		}
		if containsFold(sender, t) {
			cols["sender"] = true
		}
		if containsFold(recipients, t) {
			cols["recipients"] = true
		}
	}
	out := make([]string, 0, len(cols))
	for _, c := range []string{"subject", "sender", "recipients", "body"} {
		if cols[c] {
			out = append(out, c)
		}
	}
	return out
}

// queryTerms extracts the bare literal words out of a raw query, dropping
// boolean operators, quotes, and trailing wildcard markers, for use as
// plain substring probes against stored text.
func queryTerms(raw string) []string {
	fields := strings.Fields(raw)
	var out []string
	for _, f := range fields {
		switch strings.ToUpper(f) {
		case "AND", "OR", "NOT":
			continue
		}
		f = strings.Trim(f, `"`)
		f = strings.TrimSuffix(f, "*")
		f = strings.TrimFunc(f, func(r rune) bool {
			return strings.ContainsRune(`:^()`, r)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
