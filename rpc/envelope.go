// Package rpc is the JSON transport between clients and services. Every
// procedure is a POST to /rpc/{procedure} whose body is the JSON input; the
// reply is {"result": ...} or {"error": {"code", "message", "fields"}}.
package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/bountydotnew/querykit/apperr"
)

const PathPrefix = "/rpc/"

type envelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    apperr.Kind       `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (w *wireError) err() *apperr.Error {
	k := w.Code
	if k == "" {
		k = apperr.KindInternal
	}
	return &apperr.Error{Kind: k, Message: w.Message, Fields: w.Fields}
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(k apperr.Kind) int {
	switch k {
	case "":
		return http.StatusOK
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
