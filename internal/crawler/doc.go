// Package crawler defines the types, collaborator interfaces, and error kinds
// shared by the citation crawl pipeline, plus the row-level bulk insert used by
// every relational store.
package crawler
