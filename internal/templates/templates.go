// Package templates loads prompt templates from a CSV sheet and looks up the
// ones most relevant to a query.
package templates

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/ashureev/agentdesk/internal/llm"
)

//go:embed default_templates.csv
var defaultCSV []byte

// Template is one row of the sheet.
type Template struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

func (t Template) text() string {
	return t.Title + ". " + t.Content
}

// Index answers similarity lookups over a fixed template set.
type Index struct {
	templates []Template
	vectors   [][]float32 // nil when lexical only
	tokens    []map[string]struct{}
	embedder  llm.Embedder
}

// Load reads templates from path, or the built-in set when path is empty.
// When embedder is non-nil, templates are embedded up front; a failure there
// degrades the index to lexical scoring instead of failing the load.
func Load(ctx context.Context, path string, embedder llm.Embedder) (*Index, error) {
	var r io.Reader
	if path == "" {
		r = bytes.NewReader(defaultCSV)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open templates: %w", err)
		}
		defer f.Close()
		r = f
	}

	tpls, err := parse(r)
	if err != nil {
		return nil, err
	}
	return NewIndex(ctx, tpls, embedder), nil
}

// NewIndex builds an index over tpls.
func NewIndex(ctx context.Context, tpls []Template, embedder llm.Embedder) *Index {
	idx := &Index{templates: tpls, embedder: embedder}
	idx.tokens = make([]map[string]struct{}, len(tpls))
	texts := make([]string, len(tpls))
	for i, t := range tpls {
		idx.tokens[i] = tokenSet(t.text())
		texts[i] = t.text()
	}

	if embedder != nil && len(tpls) > 0 {
		vecs, err := embedder.Embed(ctx, texts)
		switch {
		case err != nil:
			slog.Warn("Template embedding failed, using lexical lookup", "error", err)
		case len(vecs) != len(tpls):
			slog.Warn("Template embedding count mismatch, using lexical lookup", "want", len(tpls), "got", len(vecs))
		default:
			idx.vectors = vecs
		}
	}
	slog.Info("Templates loaded", "count", len(tpls), "embedded", idx.vectors != nil)
	return idx
}

func parse(r io.Reader) ([]Template, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("parse templates: empty sheet")
	}

	cols := map[string]int{}
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	contentCol, ok := cols["content"]
	if !ok {
		return nil, errors.New("parse templates: missing content column")
	}
	get := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]Template, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if contentCol >= len(row) || strings.TrimSpace(row[contentCol]) == "" {
			continue
		}
		out = append(out, Template{
			Category: strings.ToLower(get(row, "category")),
			Title:    get(row, "title"),
			Content:  get(row, "content"),
		})
	}
	return out, nil
}

// Len returns the number of templates.
func (idx *Index) Len() int { return len(idx.templates) }

// Lookup returns up to k templates ranked by relevance to query. Templates
// with no relevance at all are omitted from lexical results.
func (idx *Index) Lookup(ctx context.Context, query string, k int) []Template {
	if k <= 0 || len(idx.templates) == 0 {
		return nil
	}

	scores, ok := idx.semanticScores(ctx, query)
	if !ok {
		scores = idx.lexicalScores(query)
	}

	order := make([]int, len(idx.templates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	out := make([]Template, 0, k)
	for _, i := range order {
		if len(out) == k {
			break
		}
		if !ok && scores[i] <= 0 {
			break
		}
		out = append(out, idx.templates[i])
	}
	return out
}

// ByCategory returns the templates of one category in sheet order.
func (idx *Index) ByCategory(category string) []Template {
	var out []Template
	for _, t := range idx.templates {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}

func (idx *Index) semanticScores(ctx context.Context, query string) ([]float64, bool) {
	if idx.vectors == nil || idx.embedder == nil {
		return nil, false
	}
	vecs, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		slog.Debug("Query embedding failed, using lexical lookup", "error", err)
		return nil, false
	}
	scores := make([]float64, len(idx.vectors))
	for i, v := range idx.vectors {
		scores[i] = cosine(vecs[0], v)
	}
	return scores, true
}

func (idx *Index) lexicalScores(query string) []float64 {
	q := tokenSet(query)
	scores := make([]float64, len(idx.tokens))
	if len(q) == 0 {
		return scores
	}
	for i, toks := range idx.tokens {
		var hits int
		for tok := range q {
			if _, ok := toks[tok]; ok {
				hits++
			}
		}
		scores[i] = float64(hits) / math.Sqrt(float64(len(toks)+1))
	}
	return scores
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "to": {}, "of": {}, "for": {}, "in": {},
	"on": {}, "with": {}, "is": {}, "it": {}, "i": {}, "me": {}, "my": {}, "we": {},
	"our": {}, "you": {}, "your": {}, "can": {}, "one": {}, "each": {}, "then": {},
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}
