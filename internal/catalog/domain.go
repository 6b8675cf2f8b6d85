package catalog

import (
	"errors"
	"fmt"
)

// ProductKind separates the two disjoint product catalogues. A product
// reference always names exactly one of them.
type ProductKind string

const (
	// KindClinical covers pharmacy and clinical catalogue items.
	KindClinical ProductKind = "CLINICAL"
	// KindGeneral covers general stock catalogue items.
	KindGeneral ProductKind = "GENERAL"
)

// ProductRef identifies one product in exactly one catalogue.
type ProductRef struct {
	Kind ProductKind
	ID   int64
}

// ClinicalRef builds a reference into the clinical catalogue.
func ClinicalRef(id int64) ProductRef {
	return ProductRef{Kind: KindClinical, ID: id}
}

// GeneralRef builds a reference into the general stock catalogue.
func GeneralRef(id int64) ProductRef {
	return ProductRef{Kind: KindGeneral, ID: id}
}

// Valid reports whether the reference names exactly one known catalogue.
func (r ProductRef) Valid() bool {
	return r.ID > 0 && (r.Kind == KindClinical || r.Kind == KindGeneral)
}

// IsZero reports whether the reference is unset.
func (r ProductRef) IsZero() bool {
	return r.ID == 0 && r.Kind == ""
}

func (r ProductRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// Product is the read-only catalogue view the workflow engine consumes.
// Catalogue maintenance lives outside this module.
type Product struct {
	Ref                    ProductRef
	Name                   string
	Unit                   string
	Regulated              bool
	AlwaysRequiresApproval bool
	Active                 bool
}

// StorageClass classifies a storage location for receipt validation.
type StorageClass string

const (
	// ClassGeneral is ordinary department storage.
	ClassGeneral StorageClass = "GENERAL"
	// ClassRegulatedVault is locked storage for regulated goods.
	ClassRegulatedVault StorageClass = "REGULATED_VAULT"
	// ClassStaging is the goods-in staging area.
	ClassStaging StorageClass = "STAGING"
)

// StorageLocation is the read-only location view.
type StorageLocation struct {
	ID           int64
	DepartmentID int64
	Name         string
	Class        StorageClass
}

// AcceptsRegulated reports whether regulated goods may rest at this location.
func (l StorageLocation) AcceptsRegulated() bool {
	return l.Class == ClassRegulatedVault || l.Class == ClassStaging
}

var (
	// ErrReferentialIntegrity indicates a referenced product or location is missing.
	ErrReferentialIntegrity = errors.New("catalog: referenced record missing")
	// ErrInvalidRef indicates a product reference naming no (or both) catalogues.
	ErrInvalidRef = errors.New("catalog: product reference must name exactly one catalogue")
)
