package query

import (
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]+`)

func tokenSet(value string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, m := range tokenPattern.FindAllString(value, -1) {
		set[strings.ToLower(m)] = struct{}{}
	}
	return set
}

// lexicalScore rates query-to-name similarity in tiers: exact 1.0, name
// substring 0.9, qualified substring 0.8, else token overlap ratio.
func lexicalScore(query, name, qualifiedName string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	n := strings.ToLower(name)
	qn := strings.ToLower(qualifiedName)
	switch {
	case q == n || q == qn:
		return 1.0
	case strings.Contains(n, q):
		return 0.9
	case strings.Contains(qn, q):
		return 0.8
	}
	queryTokens := tokenSet(query)
	if len(queryTokens) == 0 {
		return 0
	}
	targetTokens := tokenSet(name + " " + qualifiedName)
	overlap := 0
	for t := range queryTokens {
		if _, ok := targetTokens[t]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(queryTokens))
}

// structuralScore combines PageRank with log-scaled call traffic.
func structuralScore(pagerank float64, callers, callees int) float64 {
	if pagerank < 0 {
		pagerank = 0
	}
	traffic := math.Log(float64(callers+callees) + 1.0)
	return pagerank + traffic*0.1
}

// semanticScore is the optional reranking component: token overlap between
// the query and the symbol's signature plus docstring.
func semanticScore(query, signature, docstring string) float64 {
	queryTokens := tokenSet(query)
	if len(queryTokens) == 0 {
		return 0
	}
	corpusTokens := tokenSet(signature + " " + docstring)
	if len(corpusTokens) == 0 {
		return 0
	}
	overlap := 0
	for t := range queryTokens {
		if _, ok := corpusTokens[t]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(queryTokens))
}

// rankSymbol is the hybrid scoring function shared by the engines:
// lexical 0.55, structural 0.35, semantic 0.1.
func rankSymbol(query, name, qualifiedName, signature, docstring string,
	pagerank float64, callers, callees int) float64 {
	lex := lexicalScore(query, name, qualifiedName)
	struc := structuralScore(pagerank, callers, callees)
	sem := semanticScore(query, signature, docstring)
	return lex*0.55 + struc*0.35 + sem*0.1
}
