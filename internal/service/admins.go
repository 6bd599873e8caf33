package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

const adminIDsKey = "admin_ids"

// AdminLister возвращает идентификаторы всех диспетчеров
type AdminLister interface {
	ListAdminIDs(ctx context.Context) ([]uuid.UUID, error)
}

// AdminDirectory кэширует список диспетчеров в памяти: он нужен почти каждой операции
// и меняется редко
type AdminDirectory struct {
	source AdminLister
	cache  *gocache.Cache
}

func NewAdminDirectory(source AdminLister, ttl time.Duration) *AdminDirectory {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &AdminDirectory{
		source: source,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

func (d *AdminDirectory) AdminIDs(ctx context.Context) ([]uuid.UUID, error) {
	if v, ok := d.cache.Get(adminIDsKey); ok {
		return slices.Clone(v.([]uuid.UUID)), nil
	}
	ids, err := d.source.ListAdminIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: could not list admins: %w", err)
	}
	d.cache.SetDefault(adminIDsKey, slices.Clone(ids))
	return ids, nil
}
