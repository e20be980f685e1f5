// Package records defines the schema-free record model shared by the store,
// the persistence layer and the HTTP API.
//
// A [Record] is an ordered mapping from field name to a JSON value. The order of
// fields is kept exactly as loaded so that flushing a collection rewrites the
// canonical file without reshuffling keys. A [Collection] is addressed by index;
// records have no identifier of their own.
//
// [Fingerprint] digests a canonical form of a collection where keys are sorted,
// so field order never affects it while record order does.
package records
