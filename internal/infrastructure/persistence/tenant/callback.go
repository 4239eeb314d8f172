package tenant

import (
	"reflect"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/infrastructure/logger"
)

// TenantCallback provides GORM callback hooks for automatic tenant filtering
type TenantCallback struct {
	tenantColumn string
	required     bool
}

// NewTenantCallback creates a new tenant callback handler
func NewTenantCallback(tenantColumn string, required bool) *TenantCallback {
	if tenantColumn == "" {
		tenantColumn = "tenant_id"
	}
	return &TenantCallback{
		tenantColumn: tenantColumn,
		required:     required,
	}
}

// RegisterCallbacks registers tenant callbacks with GORM
func (tc *TenantCallback) RegisterCallbacks(db *gorm.DB) {
	_ = db.Callback().Query().Before("gorm:query").Register("tenant:before_query", tc.addTenantFilter)
	_ = db.Callback().Update().Before("gorm:update").Register("tenant:before_update", tc.addTenantFilter)
	_ = db.Callback().Delete().Before("gorm:delete").Register("tenant:before_delete", tc.addTenantFilter)
	_ = db.Callback().Row().Before("gorm:row").Register("tenant:before_row", tc.addTenantFilter)
	_ = db.Callback().Create().Before("gorm:create").Register("tenant:before_create", tc.checkCreate)
}

// tenantFromStatement returns the tenant bound to the statement context.
// ok is false when the statement should not be scoped.
func (tc *TenantCallback) tenantFromStatement(db *gorm.DB) (id uuid.UUID, ok bool) {
	if db.Statement.Context == nil || db.Statement.Unscoped {
		return uuid.Nil, false
	}
	// Tables without a tenant column, such as shops, are never scoped
	if db.Statement.Schema == nil || db.Statement.Schema.LookUpField(tc.tenantColumn) == nil {
		return uuid.Nil, false
	}

	raw := logger.GetTenantID(db.Statement.Context)
	if raw == "" {
		if tc.required {
			_ = db.AddError(ErrTenantIDRequired)
		}
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		_ = db.AddError(ErrInvalidTenantID)
		return uuid.Nil, false
	}
	return id, true
}

// addTenantFilter adds tenant filtering to the statement
func (tc *TenantCallback) addTenantFilter(db *gorm.DB) {
	tenantID, ok := tc.tenantFromStatement(db)
	if !ok || tc.hasTenantCondition(db) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: clause.CurrentTable, Name: tc.tenantColumn},
				Value:  tenantID,
			},
		},
	})
}

// checkCreate fills a missing tenant id and rejects rows of another tenant
func (tc *TenantCallback) checkCreate(db *gorm.DB) {
	tenantID, ok := tc.tenantFromStatement(db)
	if !ok || db.Statement.ReflectValue.Kind() == reflect.Invalid {
		return
	}
	field := db.Statement.Schema.LookUpField(tc.tenantColumn)
	ctx := db.Statement.Context
	rv := db.Statement.ReflectValue

	check := func(i int) {
		elem := rv
		if i >= 0 {
			elem = rv.Index(i)
		}
		value, zero := field.ValueOf(ctx, elem)
		if zero {
			_ = field.Set(ctx, elem, tenantID)
			return
		}
		if rowTenant, ok := value.(uuid.UUID); ok && rowTenant != tenantID {
			_ = db.AddError(catalog.ErrCrossTenantWrite)
		}
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			check(i)
		}
	case reflect.Struct:
		check(-1)
	}
}

// hasTenantCondition checks if a tenant_id condition is already present
func (tc *TenantCallback) hasTenantCondition(db *gorm.DB) bool {
	if whereClause, ok := db.Statement.Clauses["WHERE"]; ok {
		if where, ok := whereClause.Expression.(clause.Where); ok {
			for _, expr := range where.Exprs {
				if tc.exprContainsTenant(expr) {
					return true
				}
			}
		}
	}
	return false
}

// exprContainsTenant checks if an expression references the tenant column
func (tc *TenantCallback) exprContainsTenant(expr clause.Expression) bool {
	switch e := expr.(type) {
	case clause.Eq:
		if col, ok := e.Column.(clause.Column); ok {
			return col.Name == tc.tenantColumn
		}
	case clause.IN:
		if col, ok := e.Column.(clause.Column); ok {
			return col.Name == tc.tenantColumn
		}
	case clause.Expr:
		return strings.Contains(e.SQL, tc.tenantColumn)
	case clause.AndConditions:
		for _, cond := range e.Exprs {
			if tc.exprContainsTenant(cond) {
				return true
			}
		}
	}
	return false
}

// EnableAutoTenantFilter registers the tenant callbacks on db
func EnableAutoTenantFilter(db *gorm.DB, required bool) {
	NewTenantCallback("tenant_id", required).RegisterCallbacks(db)
}

// DisableAutoTenantFilter removes the tenant callbacks
func DisableAutoTenantFilter(db *gorm.DB) {
	_ = db.Callback().Query().Remove("tenant:before_query")
	_ = db.Callback().Update().Remove("tenant:before_update")
	_ = db.Callback().Delete().Remove("tenant:before_delete")
	_ = db.Callback().Row().Remove("tenant:before_row")
	_ = db.Callback().Create().Remove("tenant:before_create")
}
