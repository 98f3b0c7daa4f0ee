package to

import (
	"net/http"

	"github.com/go-json-experiment/json"
)

// JSON writes v to w as JSON.
func JSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.MarshalFull(w, v)
}
