// Package identity owns deal keys, content fingerprints and quarantine codes.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-pipeline/internal/model"
)

// UserSource is the source name given to deals supplied by analysts.
const UserSource = "manual"

// Quarantine reason codes stored in detail_fetch_reason.
const (
	ReasonDuplicateCanonicalID   = "duplicate_canonical_id"
	ReasonCanonicalisedElsewhere = "canonicalised_elsewhere"
	ReasonListingUnavailable     = "listing_unavailable"
	ReasonRedirectedToIndex      = "redirected_to_index"
	ReasonMissingTitle           = "missing_title"
	ReasonMissingDescription     = "missing_description"
	ReasonTimeout                = "timeout"
	ReasonFetchFailed            = "fetch_failed"
	ReasonUploadFailed           = "upload_failed"
	ReasonFolderFailed           = "folder_failed"
	ReasonArtifactFailed         = "artifact_failed"
	ReasonUpdateFailed           = "update_failed"
	ReasonBlocked                = "blocked"
	ReasonIndustryNotCanonical   = "industry_not_canonical"
	ReasonMissingURL             = "missing_source_url"
	ReasonExtractFailed          = "extract_failed"
)

// IDNotFound returns the reason code for a source whose canonical id could not
// be extracted, e.g. "mv_id_not_found".
func IDNotFound(source string) string {
	return strings.ToLower(source) + "_id_not_found"
}

// UnmappedSector returns the taxonomy code for an unmapped declared sector,
// e.g. "UNMAPPED_BB_SECTOR".
func UnmappedSector(source string) string {
	return "UNMAPPED_" + strings.ToUpper(source) + "_SECTOR"
}

// UID formats the workspace key for a deal.
func UID(source, listingID string) string {
	return model.Identity{Source: source, SourceListingID: listingID}.UID()
}

// ParseUID splits a "source:listing" key on the first colon. Listing ids may
// themselves contain colons.
func ParseUID(uid string) (model.Identity, error) {
	uid = strings.TrimSpace(uid)
	source, listing, ok := strings.Cut(uid, ":")
	if !ok || source == "" || listing == "" {
		return model.Identity{}, eris.Errorf("identity: malformed deal uid %q", uid)
	}
	return model.Identity{Source: strings.ToLower(source), SourceListingID: listing}, nil
}

// Normalize lowercases and collapses whitespace for fingerprinting.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ContentHash fingerprints the descriptive content of a listing.
func ContentHash(title, description, location string) string {
	h := sha256.New()
	h.Write([]byte(Normalize(title)))
	h.Write([]byte{0x1f})
	h.Write([]byte(Normalize(description)))
	h.Write([]byte{0x1f})
	h.Write([]byte(Normalize(location)))
	return hex.EncodeToString(h.Sum(nil))
}

// FileHash returns the hex SHA-256 of a binary.
func FileHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// UserDealListingID derives a stable listing id for an analyst-supplied deal
// that has no source-declared identifier.
func UserDealListingID(sectorRaw, location string, revenueK, ebitdaK *float64) string {
	parts := []string{Normalize(sectorRaw), Normalize(location), fmtK(revenueK), fmtK(ebitdaK)}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "U-" + hex.EncodeToString(sum[:])[:12]
}

func fmtK(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(model.Round2(*v), 'f', -1, 64)
}
