package router

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type Error interface {
	error
	StatusCode() int
	Encode(w io.Writer) error
}

type JsonError struct {
	Code int    `json:"code"`
	Err  string `json:"error"`
}

func NewJsonError(code int, err string) JsonError {
	return JsonError{
		Code: code,
		Err:  err,
	}
}

func NewJsonErrorf(code int, format string, args ...any) JsonError {
	return NewJsonError(code, fmt.Sprintf(format, args...))
}

func (e JsonError) StatusCode() int {
	return e.Code
}

func (e JsonError) Error() string {
	return e.Err
}

func (e JsonError) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(e)
}

// JSON writes v as a json response with the status code.
func JSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
