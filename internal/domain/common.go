package domain

import (
	"math"
	"strings"
)

// Address is a postal address used by users and orders.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// IsZero reports whether no field is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
