// Package taxonomy holds the closed industry enumeration, the per-source sector
// mapping tables and the broker-by-industry folder map, and resolves raw sector
// labels against them.
package taxonomy

import (
	"embed"
	"html"
	"path"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/deal-pipeline/internal/model"
)

// Canonical industries.
const (
	Healthcare                   = "Healthcare"
	Education                    = "Education"
	FoodBeverage                 = "Food_Beverage"
	ConsumerRetail               = "Consumer_Retail"
	BusinessServices             = "Business_Services"
	Technology                   = "Technology"
	Industrials                  = "Industrials"
	ConstructionBuiltEnvironment = "Construction_Built_Environment"
	Agriculture                  = "Agriculture"
	Other                        = "Other"
)

// IndustryPriority is the tie-break order when a listing declares several
// sectors; earlier wins. It doubles as the canonical enumeration.
var IndustryPriority = []string{
	Healthcare,
	Education,
	FoodBeverage,
	ConsumerRetail,
	BusinessServices,
	Technology,
	Industrials,
	ConstructionBuiltEnvironment,
	Agriculture,
	Other,
}

// IsCanonical reports whether industry belongs to the closed enumeration.
func IsCanonical(industry string) bool {
	return priority(industry) >= 0
}

func priority(industry string) int {
	for i, v := range IndustryPriority {
		if v == industry {
			return i
		}
	}
	return -1
}

//go:embed mappings/*.yaml folders.yaml keywords.yaml
var tablesFS embed.FS

// Entry is one mapping target.
type Entry struct {
	Industry   string  `yaml:"industry"`
	Sector     string  `yaml:"sector"`
	Confidence float64 `yaml:"confidence"`
	Reason     string  `yaml:"reason"`
}

// Mapping is the sector table for one source.
type Mapping struct {
	Source             string             `yaml:"source"`
	CaseInsensitive    bool               `yaml:"case_insensitive"`
	Declared           bool               `yaml:"declared"`
	GuaranteesDeclared bool               `yaml:"guarantees_declared"`
	KeywordInference   bool               `yaml:"keyword_inference"`
	SectorSource       model.SectorSource `yaml:"sector_source"`
	Entries            map[string]Entry   `yaml:"entries"`
	Prefixes           map[string]Entry   `yaml:"prefixes"`

	index map[string]Entry
}

// ParseMapping decodes a YAML sector table and builds its lookup index.
func ParseMapping(b []byte) (*Mapping, error) {
	var m Mapping
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, eris.Wrap(err, "taxonomy: parse mapping")
	}
	if m.Source == "" {
		return nil, eris.New("taxonomy: mapping has no source")
	}
	if m.SectorSource == "" {
		m.SectorSource = model.SectorBroker
	}
	m.index = make(map[string]Entry, len(m.Entries))
	for label, e := range m.Entries {
		if e.Confidence == 0 {
			e.Confidence = 0.95
		}
		key := m.normalize(label)
		if prev, dup := m.index[key]; dup && prev != e {
			return nil, eris.Errorf("taxonomy: %s: labels collide after normalisation: %q", m.Source, label)
		}
		m.index[key] = e
	}
	for p, e := range m.Prefixes {
		if e.Confidence == 0 {
			e.Confidence = 0.95
		}
		m.Prefixes[p] = e
	}
	return &m, nil
}

// Lookup returns the entry for a single candidate label.
func (m *Mapping) Lookup(label string) (Entry, bool) {
	e, ok := m.index[m.normalize(label)]
	return e, ok
}

// Labels returns the mapped labels in sorted order.
func (m *Mapping) Labels() []string {
	out := make([]string, 0, len(m.Entries))
	for l := range m.Entries {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (m *Mapping) normalize(s string) string {
	s = Normalize(s)
	if m.CaseInsensitive {
		s = cases.Fold().String(s)
	}
	return s
}

// Normalize decodes entities, replaces non-breaking spaces, applies NFKC and
// collapses whitespace.
func Normalize(s string) string {
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

var (
	mappings   map[string]*Mapping
	folderMap  map[string]map[string]string
	keywordMap map[string][]string
)

func init() {
	var err error
	if mappings, err = loadMappings(); err != nil {
		panic(err)
	}
	b, err := tablesFS.ReadFile("folders.yaml")
	if err != nil {
		panic(err)
	}
	if err := yaml.Unmarshal(b, &folderMap); err != nil {
		panic(eris.Wrap(err, "taxonomy: parse folders"))
	}
	b, err = tablesFS.ReadFile("keywords.yaml")
	if err != nil {
		panic(err)
	}
	if err := yaml.Unmarshal(b, &keywordMap); err != nil {
		panic(eris.Wrap(err, "taxonomy: parse keywords"))
	}
}

func loadMappings() (map[string]*Mapping, error) {
	files, err := tablesFS.ReadDir("mappings")
	if err != nil {
		return nil, eris.Wrap(err, "taxonomy: read mappings")
	}
	out := make(map[string]*Mapping, len(files))
	for _, f := range files {
		b, err := tablesFS.ReadFile(path.Join("mappings", f.Name()))
		if err != nil {
			return nil, eris.Wrapf(err, "taxonomy: read %s", f.Name())
		}
		m, err := ParseMapping(b)
		if err != nil {
			return nil, eris.Wrapf(err, "taxonomy: %s", f.Name())
		}
		out[m.Source] = m
	}
	return out, nil
}

// MappingFor returns the embedded sector table for a source.
func MappingFor(source string) (*Mapping, bool) {
	m, ok := mappings[source]
	return m, ok
}

// Sources returns every source with an embedded sector table, sorted.
func Sources() []string {
	out := make([]string, 0, len(mappings))
	for s := range mappings {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// FolderID returns the parent folder for a (source, industry) pair.
func FolderID(source, industry string) (string, bool) {
	id, ok := folderMap[source][industry]
	return id, ok && id != ""
}

// Validate asserts that the enumeration, mapping tables and folder map agree.
// Adding an industry is a coordinated change across all three.
func Validate(sources ...string) error {
	var problems []string
	for _, m := range mappings {
		for label, e := range m.Entries {
			if !IsCanonical(e.Industry) {
				problems = append(problems, m.Source+": label "+label+" maps to non-canonical industry "+e.Industry)
			}
		}
		for p, e := range m.Prefixes {
			if !IsCanonical(e.Industry) {
				problems = append(problems, m.Source+": prefix "+p+" maps to non-canonical industry "+e.Industry)
			}
		}
	}
	for src, byIndustry := range folderMap {
		for industry := range byIndustry {
			if !IsCanonical(industry) {
				problems = append(problems, "folders: "+src+" lists non-canonical industry "+industry)
			}
		}
	}
	if len(sources) == 0 {
		sources = Sources()
	}
	for _, src := range sources {
		if _, ok := mappings[src]; !ok {
			problems = append(problems, src+": no sector mapping table")
		}
		for _, industry := range IndustryPriority {
			if _, ok := FolderID(src, industry); !ok {
				problems = append(problems, "folders: "+src+" has no folder for "+industry)
			}
		}
	}
	for industry := range keywordMap {
		if !IsCanonical(industry) {
			problems = append(problems, "keywords: non-canonical industry "+industry)
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return eris.Errorf("taxonomy: %d problems: %s", len(problems), strings.Join(problems, "; "))
	}
	return nil
}
