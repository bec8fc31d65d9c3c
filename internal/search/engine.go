// Package search implements the BM25 tool-discovery index behind the
// discover meta-tool: tokenize each tool's name/description into a document,
// score a query against every document, and return the top matches.
//
// Grounded on original_source/src/search.rs: same K1/B constants, same
// tokenizer and stopword list, same exact/substring name-match score boost.
// Two additions beyond search.rs, required by spec invariants it doesn't
// implement: a deterministic tie-break (shorter tool name, then
// lexicographic) and a configurable description-length budget for catalog
// entries instead of a fixed 120-rune cut.
package search

import (
	"math"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	k1 = 1.2
	b  = 0.75

	exactNameBoost     = 10.0
	substringNameBoost = 5.0

	// DefaultCatalogDescriptionBudget is the rune budget original_source
	// hardcodes at 120; kept as the default but made overridable via
	// Engine.CatalogDescriptionBudget for the truncation mitigation spec.md
	// leaves as an Open Question.
	DefaultCatalogDescriptionBudget = 120
)

// Document is one indexed tool: a server-qualified tool made searchable.
type Document struct {
	PrefixedName string // "server__tool"
	OriginalName string // "tool"
	ServerName   string
	Description  string
	Tool         mcp.Tool
}

type docEntry struct {
	idx    int
	tf     map[string]float64
	length float64
}

// Engine is a BM25 index over a snapshot of documents. Not safe for
// concurrent BuildIndex/Search calls; the proxy core guards it with a
// RWMutex (BuildIndex taking the write lock, Search the read lock).
type Engine struct {
	docs                     []Document
	entries                  []docEntry
	idf                      map[string]float64
	avgDocLength             float64
	CatalogDescriptionBudget int
}

// NewEngine returns an empty index.
func NewEngine() *Engine {
	return &Engine{CatalogDescriptionBudget: DefaultCatalogDescriptionBudget}
}

// Count returns the number of indexed documents.
func (e *Engine) Count() int {
	if e == nil {
		return 0
	}
	return len(e.docs)
}

// BuildIndex replaces the engine's contents with a fresh set of documents.
func (e *Engine) BuildIndex(docs []Document) {
	e.docs = docs
	e.entries = make([]docEntry, len(docs))
	df := make(map[string]int)
	var totalLength float64

	for i, d := range docs {
		text := d.OriginalName + " " + d.PrefixedName + " " + d.Description
		terms := tokenize(text)

		tf := make(map[string]float64, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		for t := range tf {
			df[t]++
		}

		length := float64(len(terms))
		totalLength += length
		e.entries[i] = docEntry{idx: i, tf: tf, length: length}
	}

	n := float64(len(docs))
	if n > 0 {
		e.avgDocLength = totalLength / n
	} else {
		e.avgDocLength = 0
	}

	idf := make(map[string]float64, len(df))
	for term, freq := range df {
		f := float64(freq)
		idf[term] = math.Log((n-f+0.5)/(f+0.5) + 1.0)
	}
	e.idf = idf
}

// Result is one scored match.
type Result struct {
	Document Document
	Score    float64
}

// Search returns up to topK documents ranked by BM25 score plus the
// exact/substring name-match boost, highest first. An empty or
// whitespace-only query returns the first topK documents in index order
// (matching search.rs's behavior for an empty term list), never an error.
func (e *Engine) Search(query string, topK int) []Result {
	if e == nil || len(e.docs) == 0 || topK <= 0 {
		return nil
	}

	queryLower := strings.ToLower(strings.TrimSpace(query))
	queryTerms := tokenize(strings.TrimSpace(query))
	if len(queryTerms) == 0 {
		n := topK
		if n > len(e.docs) {
			n = len(e.docs)
		}
		out := make([]Result, n)
		for i := 0; i < n; i++ {
			out[i] = Result{Document: e.docs[i]}
		}
		return out
	}

	type scored struct {
		score float64
		idx   int
	}
	scores := make([]scored, 0, len(e.entries))

	for _, doc := range e.entries {
		var score float64
		for _, qt := range queryTerms {
			idf, ok := e.idf[qt]
			if !ok {
				continue
			}
			tf, ok := doc.tf[qt]
			if !ok {
				continue
			}
			numerator := tf * (k1 + 1.0)
			denominator := tf + k1*(1.0-b+b*(doc.length/e.avgDocLength))
			score += idf * (numerator / denominator)
		}

		lowerName := strings.ToLower(e.docs[doc.idx].OriginalName)
		switch {
		case lowerName == queryLower:
			score += exactNameBoost
		case strings.Contains(lowerName, queryLower):
			score += substringNameBoost
		}

		if score > 0 {
			scores = append(scores, scored{score: score, idx: doc.idx})
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		ni, nj := e.docs[scores[i].idx].OriginalName, e.docs[scores[j].idx].OriginalName
		if len(ni) != len(nj) {
			return len(ni) < len(nj)
		}
		return ni < nj
	})

	if len(scores) > topK {
		scores = scores[:topK]
	}

	out := make([]Result, len(scores))
	for i, s := range scores {
		out[i] = Result{Document: e.docs[s.idx], Score: s.score}
	}
	return out
}

// CatalogEntry is a compact summary of one indexed tool.
type CatalogEntry struct {
	Name        string `json:"name"`
	Server      string `json:"server"`
	Description string `json:"description"`
}

// Catalog returns every indexed tool, description truncated to the engine's
// rune budget (never splitting a multi-byte rune, unlike original_source's
// byte-based `.chars().take(120)` equivalent which is rune-safe in Rust but
// whose direct byte-slice transliteration would not be in Go).
func (e *Engine) Catalog() []CatalogEntry {
	if e == nil {
		return nil
	}
	budget := e.CatalogDescriptionBudget
	if budget <= 0 {
		budget = DefaultCatalogDescriptionBudget
	}

	out := make([]CatalogEntry, len(e.docs))
	for i, d := range e.docs {
		out[i] = CatalogEntry{
			Name:        d.OriginalName,
			Server:      d.ServerName,
			Description: truncateRunes(d.Description, budget),
		}
	}
	return out
}

// FindByName looks up a document by its prefixed "server__tool" name.
func (e *Engine) FindByName(prefixedName string) (Document, bool) {
	if e == nil {
		return Document{}, false
	}
	for _, d := range e.docs {
		if d.PrefixedName == prefixedName {
			return d, true
		}
	}
	return Document{}, false
}

// FindUnprefixed looks up a document by its bare, unprefixed tool name,
// succeeding only when exactly one server in the index advertises that
// name — used by passthrough mode to route a tools/call whose name wasn't
// prefixed because it was unique at tools/list time.
func (e *Engine) FindUnprefixed(name string) (Document, bool) {
	if e == nil {
		return Document{}, false
	}
	var match Document
	count := 0
	for _, d := range e.docs {
		if d.OriginalName == name {
			match = d
			count++
		}
	}
	if count == 1 {
		return match, true
	}
	return Document{}, false
}

// FindTool looks up a document by server name and original tool name.
func (e *Engine) FindTool(server, tool string) (Document, bool) {
	if e == nil {
		return Document{}, false
	}
	for _, d := range e.docs {
		if d.ServerName == server && d.OriginalName == tool {
			return d, true
		}
	}
	return Document{}, false
}

// ServerNames returns the distinct server names represented in the index,
// sorted. The proxy core builds the discover tool's server list from the
// config instead, so nothing outside this package's tests calls it.
func (e *Engine) ServerNames() []string {
	if e == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var names []string
	for _, d := range e.docs {
		if _, ok := seen[d.ServerName]; !ok {
			seen[d.ServerName] = struct{}{}
			names = append(names, d.ServerName)
		}
	}
	sort.Strings(names)
	return names
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
