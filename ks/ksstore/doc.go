// Package ksstore contains the store interfaces the engine persists through.
//
// Implementations live in subpackages or sibling packages,
// such as the in-memory ksmemstore and the sqlite-backed kssqlite.
package ksstore
