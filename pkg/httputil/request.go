package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/agora/pkg/apperrors"
)

// ParseJSON decodes JSON from the request body into the destination.
// Decoding failures are reported as INVALID_REQUEST.
func ParseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return apperrors.InvalidRequest("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return apperrors.Wrap(apperrors.KindInvalidArgument, apperrors.CodeInvalidRequest, "invalid JSON body", err)
	}
	return nil
}

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", apperrors.InvalidRequest(fmt.Sprintf("missing path parameter: %s", key))
	}
	return str, nil
}

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := strings.TrimSpace(r.URL.Query().Get(key))
	if val == "" {
		return defaultVal
	}
	return val
}

// ParseQueryInt64 extracts and parses an int64 query parameter
func ParseQueryInt64(r *http.Request, key string, defaultVal int64) (int64, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, apperrors.InvalidRequest(fmt.Sprintf("invalid integer for query param %s: %s", key, str))
	}
	return val, nil
}

// BearerToken returns the token of an "Authorization: Bearer" header
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
