// Package store defines the run ledger interfaces. Implementations live in
// other packages; this package must not import database drivers or concrete clients.
package store
