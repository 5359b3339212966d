// Package utils provides small, generic helper functions used across
// different layers of the ledger. These utilities are independent of
// domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead. Handlers use it for
// optional numeric query parameters such as limit and offset.
//
// Example:
//
//	limit := utils.AtoiDefault(c.Query("limit"), 50) // "25" -> 25
//	limit = utils.AtoiDefault("", 50)                // returns 50
//	limit = utils.AtoiDefault("all", 50)             // returns 50
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
