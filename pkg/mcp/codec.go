package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// EncodeMessage serializes a JSON-RPC message to its wire format.
// This delegates to the MCP SDK's jsonrpc package.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes JSON-RPC wire format data.
// It returns either a *jsonrpc.Request or *jsonrpc.Response based on the message content.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// WrapMessage decodes raw JSON-RPC bytes and wraps them in a Message struct
// stamped with the current time.
func WrapMessage(raw []byte) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:       raw,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}

// Batch is one inbound HTTP body: a single message or a JSON-RPC batch.
type Batch struct {
	Messages []*Message
	// IsBatch is true when the body was a JSON array.
	IsBatch bool
	// Invalid holds the error responses for elements that failed to decode.
	// Batch responses may be returned in any order.
	Invalid [][]byte
}

// DecodeBatch splits a request body into messages. A body that is neither a
// JSON object nor an array returns a parse *Error. Array elements that fail
// to decode are reported in Invalid and omitted from Messages.
func DecodeBatch(body []byte) (*Batch, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, NewError(CodeParseError, "Parse error")
	}

	if trimmed[0] != '[' {
		msg, err := WrapMessage(trimmed)
		if err != nil {
			return nil, NewError(CodeParseError, "Parse error")
		}
		return &Batch{Messages: []*Message{msg}}, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, NewError(CodeParseError, "Parse error")
	}
	if len(elems) == 0 {
		return nil, NewError(CodeInvalidRequest, "Invalid Request")
	}

	batch := &Batch{IsBatch: true}
	for _, raw := range elems {
		msg, err := WrapMessage(raw)
		if err != nil {
			batch.Invalid = append(batch.Invalid, ErrorResponse(nil, CodeInvalidRequest, "Invalid Request"))
			continue
		}
		batch.Messages = append(batch.Messages, msg)
	}
	return batch, nil
}

// EncodeResponses joins response bodies for the wire. A batch produces a
// JSON array; a single request its sole response. Nil is returned when
// nothing needs to be written (notifications only).
func EncodeResponses(responses [][]byte, isBatch bool) []byte {
	if len(responses) == 0 {
		return nil
	}
	if !isBatch {
		return responses[0]
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range responses {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(r)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// --- JSON response types ---

type jsonRPCError struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      json.RawMessage    `json:"id"`
	Error   jsonRPCErrorDetail `json:"error"`
}

type jsonRPCErrorDetail struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResult struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
}

var nullID = json.RawMessage("null")

// ErrorResponse constructs a JSON-RPC error response for the given raw id.
// A nil id is encoded as null.
func ErrorResponse(rawID json.RawMessage, code int64, message string) []byte {
	if rawID == nil {
		rawID = nullID
	}
	raw, err := json.Marshal(jsonRPCError{
		JSONRPC: "2.0",
		ID:      rawID,
		Error:   jsonRPCErrorDetail{Code: code, Message: message},
	})
	if err != nil {
		// rawID came from a decoded message; only a corrupted id ends up here
		raw, _ = json.Marshal(jsonRPCError{
			JSONRPC: "2.0",
			ID:      nullID,
			Error:   jsonRPCErrorDetail{Code: code, Message: message},
		})
	}
	return raw
}

// ResultResponse constructs a JSON-RPC success response for the given raw id.
func ResultResponse(rawID json.RawMessage, result interface{}) ([]byte, error) {
	if rawID == nil {
		rawID = nullID
	}

	resultJSON, ok := result.(json.RawMessage)
	if !ok {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshaling result: %w", err)
		}
	}

	raw, err := json.Marshal(jsonRPCResult{
		JSONRPC: "2.0",
		ID:      rawID,
		Result:  resultJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling response: %w", err)
	}
	return raw, nil
}
