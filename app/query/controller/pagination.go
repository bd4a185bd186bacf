package controller

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// parseLimit reads ?limit=, defaulting to defaultLimit and capping at maxLimit.
func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errInvalidLimit
	}
	return min(n, maxLimit), nil
}

func parseSlot(r *http.Request) (uint64, error) {
	slot, err := strconv.ParseUint(mux.Vars(r)["slot"], 10, 64)
	if err != nil {
		return 0, errInvalidSlot
	}
	return slot, nil
}

var (
	errInvalidLimit   = &parseError{msg: "invalid limit"}
	errInvalidSlot    = &parseError{msg: "invalid slot"}
	errMissingPattern = &parseError{msg: "missing log pattern, use ?log="}
)

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }
