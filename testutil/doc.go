// Package testutil provides deterministic data generators for tests:
// seeded random vectors, clustered activation patterns and ready-built
// collections.
package testutil
