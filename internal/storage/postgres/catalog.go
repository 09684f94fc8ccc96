package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-orders/internal/domain/catalog"
)

const itemsByIDsSQL = `SELECT id, storefront_id, name, price, stock, bulk_sale, active
	FROM items WHERE id = ANY($1) AND deleted_at IS NULL`

var _ catalog.ItemSource = (*ItemRepository)(nil)

// ItemRepository implements catalog.ItemSource backed by PostgreSQL.
type ItemRepository struct {
	pool *pgxpool.Pool
}

// NewItemRepository returns an ItemRepository that uses the given pool.
func NewItemRepository(pool *pgxpool.Pool) *ItemRepository {
	return &ItemRepository{pool: pool}
}

// ItemsByIDs loads the requested items in one query. Deleted items are
// omitted; inactive ones are returned with Active unset.
func (r *ItemRepository) ItemsByIDs(ctx context.Context, ids []int64) ([]catalog.Item, error) {
	rows, err := r.pool.Query(ctx, itemsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query items")
	}

	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, errors.Wrap(err, "scan items")
	}
	return items, nil
}

func scanItem(row pgx.CollectableRow) (catalog.Item, error) {
	var it catalog.Item
	err := row.Scan(&it.ID, &it.StorefrontID, &it.Name, &it.Price, &it.Stock, &it.BulkSale, &it.Active)
	return it, err
}
