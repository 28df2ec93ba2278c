package taxonomy

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-pipeline/internal/identity"
	"github.com/sells-group/deal-pipeline/internal/model"
)

// Keyword inference never claims more than this confidence.
const maxInferredConfidence = 0.6

// Result is a canonical sector classification.
type Result struct {
	Industry   string
	Sector     string
	Source     model.SectorSource
	Confidence float64
	Reason     string
}

// Resolver maps raw sector labels to canonical classifications, one table per
// source. It is safe for concurrent use once its tables are registered.
type Resolver struct {
	tables map[string]*Mapping
}

// NewResolver returns a resolver over the given tables, or over the embedded
// tables when none are given.
func NewResolver(tables ...*Mapping) *Resolver {
	r := &Resolver{tables: make(map[string]*Mapping)}
	if len(tables) == 0 {
		for k, v := range mappings {
			r.tables[k] = v
		}
	}
	for _, t := range tables {
		r.tables[t.Source] = t
	}
	return r
}

// Register adds or replaces the table for a source.
func (r *Resolver) Register(m *Mapping) {
	r.tables[m.Source] = m
}

func (r *Resolver) table(source string) (*Mapping, error) {
	m, ok := r.tables[source]
	if !ok {
		return nil, eris.Errorf("taxonomy: no sector mapping for source %q", source)
	}
	return m, nil
}

// Resolve classifies a raw label with no listing text available.
func (r *Resolver) Resolve(source, raw string) (Result, error) {
	return r.ResolveListing(source, raw, "", "")
}

// ResolveListing classifies a raw label, falling back to keyword inference over
// title and description for sources without a sector dropdown. An unmapped
// label on a declared source yields a TaxonomyError.
func (r *Resolver) ResolveListing(source, raw, title, description string) (Result, error) {
	m, err := r.table(source)
	if err != nil {
		return Result{}, err
	}

	label := Normalize(raw)
	if label == "" {
		switch {
		case m.GuaranteesDeclared:
			return Result{Industry: Other, Source: model.SectorInferred, Confidence: 0.2, Reason: "missing at source"}, nil
		case m.KeywordInference:
			return InferFromText(title, description), nil
		default:
			return Result{Industry: Other, Source: model.SectorUnclassified, Reason: "no sector declared"}, nil
		}
	}

	if e, ok := m.Lookup(label); ok {
		return m.result(e, label), nil
	}

	type hit struct {
		entry Entry
		label string
	}
	var hits []hit
	for _, declared := range strings.Split(label, ",") {
		declared = strings.TrimSpace(declared)
		if declared == "" {
			continue
		}
		for _, cand := range candidates(declared) {
			if e, ok := m.Lookup(cand); ok {
				hits = append(hits, hit{entry: e, label: cand})
				break
			}
		}
	}

	if len(hits) == 0 {
		if m.Declared {
			return Result{}, &identity.TaxonomyError{
				Code:   identity.UnmappedSector(source),
				Source: source,
				Label:  label,
			}
		}
		if m.KeywordInference {
			return InferFromText(label, title+" "+description), nil
		}
		return Result{Industry: Other, Source: model.SectorUnclassified, Reason: "unmapped label: " + label}, nil
	}

	best := hits[0]
	for _, h := range hits[1:] {
		if priority(h.entry.Industry) < priority(best.entry.Industry) {
			best = h
		}
	}
	return m.result(best.entry, best.label), nil
}

// ResolveRef classifies a listing by its reference prefix (e.g. ECA-029).
func (r *Resolver) ResolveRef(source, ref string) (Result, bool) {
	m, err := r.table(source)
	if err != nil || len(m.Prefixes) == 0 {
		return Result{}, false
	}
	ref = strings.ToUpper(strings.TrimSpace(ref))
	longest := ""
	for p := range m.Prefixes {
		if strings.HasPrefix(ref, strings.ToUpper(p)) && len(p) > len(longest) {
			longest = p
		}
	}
	if longest == "" {
		return Result{}, false
	}
	e := m.Prefixes[longest]
	res := m.result(e, longest)
	if e.Reason == "" {
		res.Reason = "reference prefix " + longest
	}
	return res, true
}

// CheckIndustry rejects industries outside the closed enumeration.
func CheckIndustry(source, industry string) error {
	if industry == "" || IsCanonical(industry) {
		return nil
	}
	return &identity.TaxonomyError{Code: identity.ReasonIndustryNotCanonical, Source: source, Label: industry}
}

func (m *Mapping) result(e Entry, label string) Result {
	reason := e.Reason
	if reason == "" {
		reason = "declared sector: " + label
	}
	return Result{
		Industry:   e.Industry,
		Sector:     e.Sector,
		Source:     m.SectorSource,
		Confidence: e.Confidence,
		Reason:     reason,
	}
}

// candidates returns the whole declared sector followed by its ">" segments.
func candidates(declared string) []string {
	out := []string{declared}
	if !strings.Contains(declared, ">") {
		return out
	}
	for _, seg := range strings.Split(declared, ">") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// InferFromText runs keyword inference over free text. Confidence grows with the
// number of distinct keyword hits and is capped.
func InferFromText(title, description string) Result {
	text := " " + tokens(title+" "+description) + " "

	bestIndustry := ""
	var bestHits []string
	for _, industry := range IndustryPriority {
		var hits []string
		for _, kw := range keywordMap[industry] {
			if strings.Contains(text, " "+tokens(kw)+" ") {
				hits = append(hits, kw)
			}
		}
		if len(hits) > len(bestHits) {
			bestIndustry, bestHits = industry, hits
		}
	}
	if bestIndustry == "" {
		return Result{Industry: Other, Source: model.SectorUnclassified, Reason: "no keyword match"}
	}
	conf := 0.3 + 0.1*float64(len(bestHits))
	if conf > maxInferredConfidence {
		conf = maxInferredConfidence
	}
	return Result{
		Industry:   bestIndustry,
		Source:     model.SectorInferred,
		Confidence: model.Round2(conf),
		Reason:     fmt.Sprintf("keyword match: %s", strings.Join(bestHits, ", ")),
	}
}

func tokens(s string) string {
	s = strings.ToLower(Normalize(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Keywords returns the inference vocabulary for an industry, sorted.
func Keywords(industry string) []string {
	out := append([]string(nil), keywordMap[industry]...)
	sort.Strings(out)
	return out
}
