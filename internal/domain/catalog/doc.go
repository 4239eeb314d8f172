// Package catalog contains the tenant-partitioned catalog model mirrored from
// the upstream shop platform.
//
// Key concepts:
//   - Entity: Product, Variant, Category or Page, keyed by (tenant, upstream id)
//     and versioned by the upstream updated-at timestamp
//   - CategoryGraph: arena of category nodes used to resolve parent links and
//     break cycles in malformed upstream trees
//   - SearchProfile: ordered, validated selection of fields feeding the
//     search vector
//   - Store: persistence port implemented in the infrastructure layer
package catalog
