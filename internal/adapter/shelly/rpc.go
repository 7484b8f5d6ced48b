package shelly

import (
	"bytes"
	"encoding/json"
	"errors"
)

const (
	METHOD_EM_GET_STATUS  = "EM.GetStatus"
	METHOD_EM1_GET_STATUS = "EM1.GetStatus"

	responseDestination = "unknown"
)

var (
	errMissingID        = errors.New("request has no id")
	errNonIntegerParams = errors.New("params.id is not an integer")
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params struct {
		ID json.RawMessage `json:"id"`
	} `json:"params"`
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Src    string          `json:"src"`
	Dst    string          `json:"dst"`
	Result any             `json:"result"`
}

func parseRequest(payload []byte) (*rpcRequest, error) {
	var req rpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if !isJSONInteger(req.Params.ID) {
		return nil, errNonIntegerParams
	}
	if len(req.ID) == 0 {
		return nil, errMissingID
	}
	return &req, nil
}

// isJSONInteger accepts integer literals of any size, rejecting fractions
// and exponents.
func isJSONInteger(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '-' {
		raw = raw[1:]
	}
	if len(raw) == 0 {
		return false
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
