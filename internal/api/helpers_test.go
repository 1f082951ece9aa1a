package api

import (
	"errors"
	"strings"
)

var errTestFailure = errors.New("probe failed")

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
