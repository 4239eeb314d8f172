// Package integration contains the catalog sync bounded context: sync tasks,
// the error taxonomy shared by every sync component, and the ports the
// orchestrator drives.
//
// Key concepts:
//   - Task: unit of work (Full, Incremental or Reconcile) for one tenant
//   - UpstreamCatalog: port to the rate-limited upstream catalog API
//   - IdempotencyLedger: per (tenant, entity type, upstream id) applied versions
//   - UnitOfWork: runs ledger check and catalog write in one tenant transaction
//   - LeaseStore: per-tenant mutual exclusion for running tasks
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
