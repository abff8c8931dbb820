// Package testutil provides test helpers shared by the broker's packages.
package testutil
