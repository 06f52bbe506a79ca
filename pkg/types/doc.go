/*
Package types defines the core data structures used throughout fbuildd.

This package contains the domain model shared across the daemon: requests
received from clients, operations tracked by the registry, connected
clients, resource locks, firmware ledger entries, serial sessions, port
states, and the daemon-wide status snapshot.
*/
package types
