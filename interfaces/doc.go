// Package interfaces defines the shared vocabulary of the recovery
// system: the recovery request lifecycle, custodial registrations and
// signature requests, and the collaborator contracts (ledger reads and
// transaction submission) consumed by the authority and the clients.
//
// The authoritative state (signature sets, nonces, challenge validity)
// lives in the remote authority and on the ledger. Everything in this
// package is passed by value between components; nothing here is a
// process-wide singleton.
package interfaces
