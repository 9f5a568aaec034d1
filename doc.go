// Package loanflow is a durable orchestrator for the loan fulfillment
// process: eligibility check, offer generation, document verification,
// offer acceptance, agreement and account creation, and disbursement.
//
// The orchestration is a persisted state machine rather than a replayed
// program. Every instance records the last step it completed, together with
// the output that produced it, and advances one compare-and-swap transition
// at a time. A process crash between any two transitions loses nothing: on
// restart, Recover picks up every instance that was mid-flight and resumes
// it from its recorded step without re-running completed activities.
//
// # Workflow shape
//
// A loan application moves through three kinds of steps:
//
//   - Activity steps call one of the collaborating services (eligibility,
//     offers, agreements, accounts, payments) through a retrying invoker
//     that distinguishes transient failures (retried with exponential
//     backoff) from permanent ones (fail the instance immediately).
//   - Wait steps park the instance until a named human decision arrives as
//     a signal: documents-verified, offer-accepted, disbursement-triggered.
//     Signal delivery is idempotent, and a signal that arrives early is
//     recorded and honored when the instance reaches its wait step.
//   - Milestone transitions append an event to a per-instance journal and
//     forward it, best effort, to an external notification sink.
//
// # Storage backends
//
// Instances, the milestone journal, and the task queue have in-memory,
// SQLite, PostgreSQL, and Redis implementations. The constructors in this
// package (NewInMemoryEngine, NewSQLiteEngine, NewPostgresEngine,
// NewRedisEngine) wire a backend to the engine; NewSQLiteBundle additionally
// shares the database with a durable task queue and a Worker.
//
// # Embedding
//
// The engine is a library, not a server. cmd/loanflowd shows the intended
// deployment: an HTTP facade enqueues applications and signals, workers
// drive them, and Recover runs once at startup before traffic is accepted.
package loanflow
