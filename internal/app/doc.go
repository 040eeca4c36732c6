// Package app composes the supply-chain ledger into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── role/           # Roles and role sets
//	│   ├── product/        # Products, lifecycle states, status history
//	│   ├── escrow/         # Balances and balance movements
//	│   ├── audit/          # Audit records
//	│   └── rating/         # Ratings and summaries
//	├── storage/            # Transactional store interfaces
//	│   ├── memory/         # In-memory implementation with undo journal
//	│   └── postgres/       # PostgreSQL implementation
//	├── services/           # Ledger components and the coordinating service
//	├── title/              # Ownership-title registry collaborator
//	├── halt/               # Halt switch collaborator
//	├── oracle/             # Informational price oracle
//	├── notify/             # Notification bus and broker sink
//	├── jobs/               # Scheduled jobs (expiry sweeper)
//	├── httpapi/            # HTTP API handlers and routing
//	├── runtime/            # Process wiring and HTTP server lifecycle
//	├── system/             # Service lifecycle manager
//	└── metrics/            # Prometheus metrics
//
// # Dependency Direction
//
//	cmd/supplychain/
//	      │
//	      ▼
//	internal/app/runtime ──► internal/config
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► services/supplychain ──► services/{roles,lifecycle,products,escrow,audit,ratings}
//	      │                                   │
//	      │                                   └──► storage, domain
//	      │
//	      └──► jobs, notify, oracle, halt, title
//
// Every mutating operation goes through supplychain.Service, which runs it
// in one storage transaction and publishes its notifications after commit.
package app
