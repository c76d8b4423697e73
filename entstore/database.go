package entstore

import (
	"github.com/entstore/entstore/entstore/storage"
)

// scope is the execution context a Query borrows for the duration of a
// run: an executor plus an optional transaction token.
type scope interface {
	executor() storage.Executor
	transactionID() []byte
}

// Database is the database-level execution scope. It owns no query
// state; it hands out Queries bound to its executor.
type Database struct {
	exec      storage.Executor
	namespace string
}

// NewDatabase binds a database scope to an execution capability.
func NewDatabase(exec storage.Executor) *Database {
	return &Database{exec: exec}
}

// WithNamespace returns a scope whose queries default to the given
// namespace partition; individual queries may still override it.
func (db *Database) WithNamespace(ns string) *Database {
	return &Database{exec: db.exec, namespace: ns}
}

// NewQuery starts a query over one kind, bound to this scope.
func (db *Database) NewQuery(kind string) *Query {
	return newQuery(db, db.namespace, kind)
}

func (db *Database) executor() storage.Executor { return db.exec }
func (db *Database) transactionID() []byte      { return nil }

// Transaction is a transaction-level execution scope. The transaction
// token is produced and settled by the external transaction lifecycle;
// here it only rides along on every run issued through this scope.
type Transaction struct {
	db *Database
	id []byte
}

// NewTransaction wraps an externally begun transaction token.
func (db *Database) NewTransaction(id []byte) *Transaction {
	return &Transaction{db: db, id: id}
}

// NewQuery starts a query bound to the transaction scope.
func (tx *Transaction) NewQuery(kind string) *Query {
	return newQuery(tx, tx.db.namespace, kind)
}

func (tx *Transaction) executor() storage.Executor { return tx.db.exec }
func (tx *Transaction) transactionID() []byte      { return tx.id }
