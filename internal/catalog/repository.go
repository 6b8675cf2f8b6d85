package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory is the lookup port the workflow packages depend on.
type Directory interface {
	Product(ctx context.Context, ref ProductRef) (Product, error)
	Location(ctx context.Context, id int64) (StorageLocation, error)
}

// Repository resolves catalogue lookups against PostgreSQL. The two product
// kinds live in disjoint tables; the reference kind picks the table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Product resolves a product reference or returns ErrReferentialIntegrity.
func (r *Repository) Product(ctx context.Context, ref ProductRef) (Product, error) {
	if r == nil {
		return Product{}, errors.New("catalog repository not initialised")
	}
	if !ref.Valid() {
		return Product{}, ErrInvalidRef
	}
	var query string
	switch ref.Kind {
	case KindClinical:
		query = `SELECT name, unit, regulated, always_requires_approval, active FROM clinical_products WHERE id=$1`
	case KindGeneral:
		query = `SELECT name, unit, false, always_requires_approval, active FROM general_products WHERE id=$1`
	}
	p := Product{Ref: ref}
	err := r.pool.QueryRow(ctx, query, ref.ID).Scan(&p.Name, &p.Unit, &p.Regulated, &p.AlwaysRequiresApproval, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: product %s", ErrReferentialIntegrity, ref)
		}
		return Product{}, err
	}
	return p, nil
}

// Location resolves a storage location or returns ErrReferentialIntegrity.
func (r *Repository) Location(ctx context.Context, id int64) (StorageLocation, error) {
	if r == nil {
		return StorageLocation{}, errors.New("catalog repository not initialised")
	}
	loc := StorageLocation{ID: id}
	err := r.pool.QueryRow(ctx, `SELECT department_id, name, storage_class FROM storage_locations WHERE id=$1`, id).
		Scan(&loc.DepartmentID, &loc.Name, &loc.Class)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StorageLocation{}, fmt.Errorf("%w: location %d", ErrReferentialIntegrity, id)
		}
		return StorageLocation{}, err
	}
	return loc, nil
}
