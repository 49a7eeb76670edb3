// Package store persists the friend graph between runs.
//
// Only relationships and pending invites are stored. Presence is never
// persisted: every user starts offline after a restart.
//
// Two backends are provided. FileStore writes a single snapshot file in
// JSON or CBOR, replacing it atomically. RedisStore keeps one hash field
// per user so that several operators can inspect the data with redis-cli.
package store
