package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Catalog is the product side of the store: lookups for line-item
// resolution and the idempotent identity upsert used by intake.
type Catalog struct {
	Store Store
	NewID func() string
	Now   func() time.Time
}

// NewCatalog returns a Catalog over s with UUID ids and UTC wall time.
func NewCatalog(s Store) *Catalog {
	return &Catalog{Store: s, NewID: uuid.NewString, Now: utcNow}
}

// FindProduct returns the product or a *NotFoundError.
func (c *Catalog) FindProduct(ctx context.Context, id ProductID) (Product, error) {
	id = ProductID(strings.TrimSpace(string(id)))
	if id == "" {
		return Product{}, &ValidationError{Code: CodeProductRequired, Field: "productId", Message: "product id is required"}
	}
	return c.Store.GetProduct(ctx, id)
}

// ListProducts returns the catalog ordered by name, category, lot.
func (c *Catalog) ListProducts(ctx context.Context) ([]Product, error) {
	return c.Store.ListProducts(ctx)
}

// UpsertProductByIdentity returns the product with this identity, creating
// it first if needed. Calling it twice yields the same id.
func (c *Catalog) UpsertProductByIdentity(ctx context.Context, identity ProductIdentity) (Product, error) {
	identity, err := validateIdentity(identity, "product")
	if err != nil {
		return Product{}, err
	}
	now := c.Now()
	return c.Store.InsertProductIfAbsent(ctx, Product{
		ID:        ProductID(c.NewID()),
		Name:      identity.Name,
		Category:  identity.Category,
		Lot:       identity.Lot,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// CreateProduct inserts a new product. Unlike the upsert, an existing
// identity is an *IdentityConflictError.
func (c *Catalog) CreateProduct(ctx context.Context, identity ProductIdentity) (Product, error) {
	identity, err := validateIdentity(identity, "product")
	if err != nil {
		return Product{}, err
	}
	now := c.Now()
	p := Product{
		ID:        ProductID(c.NewID()),
		Name:      identity.Name,
		Category:  identity.Category,
		Lot:       identity.Lot,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.Store.InsertProduct(ctx, p); err != nil {
		return Product{}, err
	}
	return p, nil
}

// ProductPatch carries the display fields being changed.
type ProductPatch struct {
	Name     *string
	Category *string
	Lot      *string
}

// UpdateProduct edits display fields. Transactions keep referencing the
// product by id, so past admission checks are unaffected.
func (c *Catalog) UpdateProduct(ctx context.Context, id ProductID, patch ProductPatch) (Product, error) {
	if patch.Name == nil && patch.Category == nil && patch.Lot == nil {
		return Product{}, &ValidationError{Code: CodeInvalidPayload, Message: "at least one updatable field is required"}
	}
	p, err := c.FindProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}

	next := p.Identity()
	if patch.Name != nil {
		next.Name = *patch.Name
	}
	if patch.Category != nil {
		next.Category = *patch.Category
	}
	if patch.Lot != nil {
		next.Lot = *patch.Lot
	}
	next, err = validateIdentity(next, "product")
	if err != nil {
		return Product{}, err
	}

	p.Name, p.Category, p.Lot = next.Name, next.Category, next.Lot
	p.UpdatedAt = c.Now()
	if err := c.Store.UpdateProduct(ctx, p); err != nil {
		return Product{}, err
	}
	return p, nil
}

func utcNow() time.Time { return time.Now().UTC() }
