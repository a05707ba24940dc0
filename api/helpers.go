package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// decodeOptionalJSON decodes the request body into v if present. An empty
// body is not an error, letting handlers accept fully-defaulted requests.
func decodeOptionalJSON(r *http.Request, v interface{}) error {
	if r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func pathVar(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}

func errRequired(fields string) error {
	return fmt.Errorf("%s required", fields)
}

func parsePositiveInt(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must be non-negative")
	}
	return n, nil
}
