package utils

import (
	"encoding/json"
	"errors"
	"net/http"
)

/*
	utils.go

	Shared helpers for API request handling and JSON responses
*/

// SendJSONResponse marshals payload and writes it as a JSON response
func SendJSONResponse(w http.ResponseWriter, payload interface{}) {
	js, err := json.Marshal(payload)
	if err != nil {
		SendErrorResponse(w, "internal encoding error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}

// SendErrorResponse writes an error message as a JSON error object
func SendErrorResponse(w http.ResponseWriter, errormsg string) {
	w.Header().Set("Content-Type", "application/json")
	js, _ := json.Marshal(map[string]string{"error": errormsg})
	w.Write(js)
}

// SendOK writes a minimal success response
func SendOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte("\"OK\""))
}

// GetPara retrieves a query parameter, erroring when it is absent
func GetPara(r *http.Request, key string) (string, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return "", errors.New("invalid " + key + " given")
	}
	return value, nil
}

// GetBool parses a boolean-ish query parameter, defaulting to false
func GetBool(r *http.Request, key string) bool {
	switch r.URL.Query().Get(key) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
