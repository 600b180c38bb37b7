// Package clients implements the client registry keyed by tax id (CUIT).
// Clients are shared by all orders referencing them and are never deleted
// by order operations.
package clients

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Client is the registry record.
type Client struct {
	ID        int64     `json:"id"`
	TaxID     string    `json:"tax_id"`
	LegalName string    `json:"legal_name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertInput carries the mutable client fields supplied with an order.
type UpsertInput struct {
	TaxID     string
	LegalName string
	Phone     string
	Address   string
}

var (
	// ErrNotFound indicates no client matches the given tax id.
	ErrNotFound = errors.New("clients: not found")
	// ErrInvalidTaxID indicates the tax id is empty after normalization.
	ErrInvalidTaxID = errors.New("clients: invalid tax id")
)

// NormalizeTaxID reduces a tax identifier to its bare digits, so
// "30-12345678-9" and "30 12345678 9" key the same registry row.
func NormalizeTaxID(taxID string) string {
	var b strings.Builder
	for _, r := range taxID {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldName lowercases a legal name and strips diacritics so registry search
// matches accented spellings.
func foldName(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = name
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
