package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
)

// Error numbers reported in the ErrorNumber field.
const (
	ErrNumInvalidValue = 0x401
	ErrNumNotConnected = 0x407
	ErrNumUnspecified  = 0x4FF
)

// Global transaction counter
var txCounter atomic.Int32

type baseResponse struct {
	ClientTransactionID int    `json:"ClientTransactionID"`
	ServerTransactionID int    `json:"ServerTransactionID"`
	ErrorNumber         int    `json:"ErrorNumber"`
	ErrorMessage        string `json:"ErrorMessage"`
	Value               any    `json:"Value,omitempty"`
}

// Helper to read and parse the request body as URL-encoded data.
func parseBodyParams(r *http.Request) (url.Values, error) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	// Reset the body so it can be read again later.
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	return url.ParseQuery(string(bodyBytes))
}

func requestParams(r *http.Request) url.Values {
	if r.Method == http.MethodPut || r.Method == http.MethodPost {
		params, _ := parseBodyParams(r)
		return params
	}
	return r.URL.Query()
}

// lookup finds a parameter by case-insensitive name.
func lookup(params url.Values, field string) (string, bool) {
	for param, value := range params {
		if strings.EqualFold(param, field) && len(value) > 0 {
			return value[0], true
		}
	}
	return "", false
}

// getClientTxID returns the optional ClientTransactionID, echoed back in the
// response.
func getClientTxID(params url.Values) (int, error) {
	value, ok := lookup(params, "ClientTransactionID")
	if !ok {
		return 0, nil
	}
	id, err := strconv.Atoi(value)
	if err != nil || id < 0 {
		return 0, errors.New("ClientTransactionID must be a non-negative integer")
	}
	return id, nil
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, response baseResponse) {
	txID, err := getClientTxID(requestParams(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	response.ServerTransactionID = int(txCounter.Add(1))
	response.ClientTransactionID = txID
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func handleResponse(w http.ResponseWriter, r *http.Request, value any) {
	writeEnvelope(w, r, baseResponse{Value: value})
}

func handleError(w http.ResponseWriter, r *http.Request, code int, message string) {
	writeEnvelope(w, r, baseResponse{ErrorNumber: code, ErrorMessage: message})
}

// parseRequest reads a field from the request parameters.
func parseRequest(r *http.Request, field string) (string, error) {
	value, ok := lookup(requestParams(r), field)
	if !ok {
		return "", fmt.Errorf("missing field %s", field)
	}
	return value, nil
}

func parseBoolRequest(r *http.Request, field string) (bool, error) {
	value, err := parseRequest(r, field)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(value)
}

func parseFloatRequest(r *http.Request, field string) (float64, error) {
	value, err := parseRequest(r, field)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(value, 64)
}

func parseIntRequest(r *http.Request, field string) (int64, error) {
	value, err := parseRequest(r, field)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}
