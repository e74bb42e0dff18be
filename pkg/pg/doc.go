// Package pg wraps the pgx/v5 driver with the small amount of plumbing the
// service needs: pooled connections with startup retry, goose schema
// migrations, health checks, error classification helpers, and a
// transaction-in-context mechanism used to commit several stores' writes
// under one boundary.
//
// Connect opens a *pgxpool.Pool from an env-driven Config, retrying with
// backoff until the database is reachable. Migrate applies goose migrations
// through the same pool before the service starts serving traffic.
//
// RunInTx begins a transaction and stashes it in the context; stores obtain
// their querier via QuerierFrom, so a store method transparently joins the
// caller's transaction when one is open and falls back to the pool
// otherwise. Helpers such as [IsDuplicateKeyError] classify
// *pgconn.PgError codes so business logic never matches on SQLSTATE strings.
package pg
