package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context carries a request context plus an optional transaction so repo
// methods can join a caller's transaction without extra plumbing.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// Conn resolves the handle for a repo call: the transaction when one is
// present, the supplied pooled connection otherwise. The request context is
// attached either way.
func (c Context) Conn(db *gorm.DB) *gorm.DB {
	if c.Tx != nil {
		return c.Tx.WithContext(c.Ctx)
	}
	return db.WithContext(c.Ctx)
}

// WithFallback returns a copy whose Tx is populated: the caller's transaction
// when present, db otherwise. Services use it to pin a whole flow of repo
// calls to one handle.
func (c Context) WithFallback(db *gorm.DB) Context {
	if c.Tx == nil {
		c.Tx = db
	}
	return c
}
