// Package utils provides common utility functions for the reconciler.
// It includes helper functions for type conversion of driver-dependent
// values and other shared logic that doesn't fit into domain-specific
// packages.
package utils
