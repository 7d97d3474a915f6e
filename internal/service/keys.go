package service

import (
	"fmt"

	"github.com/celerix-dev/invasions/pkg/schema"
)

// listKey is the cache key of the full listing of one kind, e.g. "cities:all".
func listKey(kind schema.Kind) string {
	return kind.Plural() + ":all"
}

// relationsKey is the cache key of the invasions of one entity, e.g.
// "city:12:invasions". The kind prefix keeps city and tribe ids apart.
func relationsKey(kind schema.Kind, id int64) string {
	return fmt.Sprintf("%s:%d:invasions", kind, id)
}

// keySpace labels cache metrics without the per-entity id.
func keySpace(kind schema.Kind, relations bool) string {
	if relations {
		return string(kind) + "_invasions"
	}
	return kind.Plural()
}
