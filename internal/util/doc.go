// Package util provides small string helpers shared across the broker.
package util
