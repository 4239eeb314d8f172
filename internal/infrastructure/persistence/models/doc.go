// Package models contains GORM persistence models. They are kept apart from
// the domain types so that the domain stays free of ORM tags; each model has
// ToDomain and FromDomain mappers used by the repositories.
package models
