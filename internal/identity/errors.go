package identity

import (
	"errors"
	"fmt"
)

// ContentError marks a listing whose required fields could not be extracted.
// The listing is quarantined with Code and the batch continues.
type ContentError struct {
	Code   string
	Detail string
}

func (e *ContentError) Error() string {
	if e.Detail == "" {
		return "content: " + e.Code
	}
	return fmt.Sprintf("content: %s: %s", e.Code, e.Detail)
}

// TaxonomyError marks a sector label or industry that the closed taxonomy
// cannot place. It fails the listing and, at the end of the batch, the job.
type TaxonomyError struct {
	Code   string
	Source string
	Label  string
}

func (e *TaxonomyError) Error() string {
	return fmt.Sprintf("taxonomy: %s: %q", e.Code, e.Label)
}

// CollisionError marks a canonical id already owned by another deal.
type CollisionError struct {
	Code        string
	CanonicalID string
	OwnerID     int64
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("identity: %s: %s owned by deal %d", e.Code, e.CanonicalID, e.OwnerID)
}

// NewMissing returns a ContentError for an absent required field.
func NewMissing(code string) error {
	return &ContentError{Code: code}
}

// IsTaxonomy reports whether err carries a TaxonomyError.
func IsTaxonomy(err error) bool {
	var te *TaxonomyError
	return errors.As(err, &te)
}

// ReasonOf returns the quarantine code carried by err, if any.
func ReasonOf(err error) (string, bool) {
	var ce *ContentError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	var te *TaxonomyError
	if errors.As(err, &te) {
		return te.Code, true
	}
	var co *CollisionError
	if errors.As(err, &co) {
		return co.Code, true
	}
	return "", false
}
