// Package cache defines the versioned response stores used by the cache
// manager. A Storage holds any number of named stores (one per deployed
// version, named <prefix>-<version>); each Store maps a GET request identity
// to a captured response. Drivers are provided for memory (tests), the local
// filesystem (temp file + rename, survives restarts) and SQLite. Higher layers
// only ever see the Storage/Store interfaces so drivers can be swapped freely.
package cache
