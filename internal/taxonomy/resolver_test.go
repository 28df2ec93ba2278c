package taxonomy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-pipeline/internal/identity"
	"github.com/sells-group/deal-pipeline/internal/model"
)

func TestEmbeddedTablesValidate(t *testing.T) {
	require.NoError(t, Validate())
	assert.ElementsMatch(t, []string{"bb", "bfs", "ec", "manual", "mv"}, Sources())
}

func TestValidate_UnknownSourceFails(t *testing.T) {
	err := Validate("zz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zz: no sector mapping table")
	assert.Contains(t, err.Error(), "folders: zz has no folder for Healthcare")
}

func TestFolderID(t *testing.T) {
	id, ok := FolderID("bb", Healthcare)
	assert.True(t, ok)
	assert.NotEmpty(t, id)

	_, ok = FolderID("bb", "Aerospace")
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "Transport & Logistics", Normalize("  Transport &amp; Logistics "))
	assert.Equal(t, "Cafe Bar", Normalize("Cafe\t\n Bar"))
}

func TestResolve_CaseInsensitiveDeclared(t *testing.T) {
	r := NewResolver()

	res, err := r.Resolve("bb", "care homes")
	require.NoError(t, err)
	assert.Equal(t, Healthcare, res.Industry)
	assert.Equal(t, "Care Homes", res.Sector)
	assert.Equal(t, model.SectorBroker, res.Source)
	assert.InDelta(t, 0.95, res.Confidence, 0.001)

	res, err = r.Resolve("bb", "Transport &amp; Logistics")
	require.NoError(t, err)
	assert.Equal(t, BusinessServices, res.Industry)
}

func TestResolve_CaseSensitiveSource(t *testing.T) {
	r := NewResolver()

	_, err := r.Resolve("mv", "healthcare > care homes")
	var te *identity.TaxonomyError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "UNMAPPED_MV_SECTOR", te.Code)
}

func TestResolve_HierarchicalFallsBackToSegments(t *testing.T) {
	r := NewResolver()

	res, err := r.Resolve("mv", "Healthcare > Care Homes")
	require.NoError(t, err)
	assert.Equal(t, "Care Homes", res.Sector)

	// Unknown leaf: the first mapped segment wins.
	res, err = r.Resolve("mv", "Healthcare > Veterinary")
	require.NoError(t, err)
	assert.Equal(t, Healthcare, res.Industry)
	assert.Empty(t, res.Sector)
	assert.InDelta(t, 0.8, res.Confidence, 0.001)
}

func TestResolve_MultiSectorUsesPriority(t *testing.T) {
	r := NewResolver()

	res, err := r.Resolve("bb", "Engineering, Nurseries, Retail")
	require.NoError(t, err)
	assert.Equal(t, Education, res.Industry)
	assert.Equal(t, "Childcare", res.Sector)

	// Unmapped parts are ignored when another part maps.
	res, err = r.Resolve("bb", "Quantum Widgets, Software")
	require.NoError(t, err)
	assert.Equal(t, Technology, res.Industry)
}

func TestResolve_UnmappedDeclaredRaises(t *testing.T) {
	r := NewResolver()

	_, err := r.Resolve("bb", "Quantum Widgets")
	require.Error(t, err)
	assert.True(t, identity.IsTaxonomy(err))
	code, ok := identity.ReasonOf(err)
	assert.True(t, ok)
	assert.Equal(t, "UNMAPPED_BB_SECTOR", code)
}

func TestResolve_MissingLabel(t *testing.T) {
	r := NewResolver()

	res, err := r.Resolve("bb", "")
	require.NoError(t, err)
	assert.Equal(t, Result{Industry: Other, Source: model.SectorInferred, Confidence: 0.2, Reason: "missing at source"}, res)

	res, err = r.ResolveListing("bfs", "", "Established Dental Practice", "NHS and private dentist in Kent")
	require.NoError(t, err)
	assert.Equal(t, Healthcare, res.Industry)
	assert.Equal(t, model.SectorInferred, res.Source)
	assert.LessOrEqual(t, res.Confidence, 0.6)
	assert.Contains(t, res.Reason, "keyword match: ")
	assert.Contains(t, res.Reason, "dental")
}

func TestResolve_UnknownSource(t *testing.T) {
	_, err := NewResolver().Resolve("zz", "anything")
	assert.Error(t, err)
}

func TestResolveRef_Prefix(t *testing.T) {
	r := NewResolver()

	res, ok := r.ResolveRef("ec", "ECA-029")
	require.True(t, ok)
	assert.Equal(t, ConsumerRetail, res.Industry)
	assert.Equal(t, "E-commerce", res.Sector)
	assert.Equal(t, model.SectorBroker, res.Source)
	assert.InDelta(t, 0.95, res.Confidence, 0.001)

	_, ok = r.ResolveRef("ec", "XYZ-1")
	assert.False(t, ok)
	_, ok = r.ResolveRef("bb", "ECA-029")
	assert.False(t, ok)
}

func TestInferFromText(t *testing.T) {
	res := InferFromText("Profitable Software House", "SaaS platform with managed services and app development")
	assert.Equal(t, Technology, res.Industry)
	assert.InDelta(t, 0.6, res.Confidence, 0.001)

	res = InferFromText("Opportunity", "A well established business")
	assert.Equal(t, Other, res.Industry)
	assert.Equal(t, model.SectorUnclassified, res.Source)
	assert.Zero(t, res.Confidence)
}

func TestInferFromText_ConfidenceScalesWithHits(t *testing.T) {
	res := InferFromText("Farm for sale", "")
	assert.Equal(t, Agriculture, res.Industry)
	assert.InDelta(t, 0.4, res.Confidence, 0.001)
}

func TestCheckIndustry(t *testing.T) {
	assert.NoError(t, CheckIndustry("bb", Healthcare))
	assert.NoError(t, CheckIndustry("bb", ""))
	err := CheckIndustry("bb", "Aerospace")
	code, ok := identity.ReasonOf(err)
	assert.True(t, ok)
	assert.Equal(t, identity.ReasonIndustryNotCanonical, code)
}

func TestParseMapping_RejectsCollisions(t *testing.T) {
	_, err := ParseMapping([]byte(`
source: zz
case_insensitive: true
entries:
  Retail: {industry: Consumer_Retail}
  RETAIL: {industry: Industrials}
`))
	assert.Error(t, err)

	_, err = ParseMapping([]byte(`case_insensitive: true`))
	assert.Error(t, err)
}

func TestResolver_RegisterCustomTable(t *testing.T) {
	m, err := ParseMapping([]byte(`
source: zz
declared: true
entries:
  Widgets: {industry: Industrials, sector: Widgets, confidence: 0.9, reason: "widget table"}
`))
	require.NoError(t, err)

	r := NewResolver(m)
	res, err := r.Resolve("zz", "Widgets")
	require.NoError(t, err)
	assert.Equal(t, "widget table", res.Reason)
	assert.InDelta(t, 0.9, res.Confidence, 0.001)

	_, err = r.Resolve("bb", "Care Homes")
	assert.Error(t, err)
}
