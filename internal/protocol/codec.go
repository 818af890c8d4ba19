package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/substratehq/substrate/internal/shared/errdefs"
)

// Decode parses a request envelope. Malformed JSON reports InvalidRequest
// rather than a raw decode error.
func Decode(data []byte) (*Request, error) {
	var req Request
	if err := sonic.Unmarshal(data, &req); err != nil {
		return nil, errdefs.InvalidRequest("body", fmt.Sprintf("malformed JSON: %v", err))
	}
	return &req, nil
}

// Encode renders a response envelope.
func Encode(resp *Response) ([]byte, error) {
	return sonic.Marshal(resp)
}

// Success builds a success envelope.
func Success(data map[string]interface{}, meta Metadata) *Response {
	return &Response{
		Version:  Version,
		Result:   Result{Status: StatusSuccess, Data: data},
		Metadata: meta,
	}
}

// Failure builds an error envelope, preserving the structured code and
// details when err is a classified error. Unclassified errors surface as
// EXEC_FAILED with their message intact.
func Failure(err error, meta Metadata) *Response {
	body := &ErrorBody{
		Code:    string(errdefs.CodeExecFailed),
		Message: err.Error(),
	}
	if e, ok := errdefs.As(err); ok {
		body.Code = string(e.Code)
		body.Message = e.Message
		body.Details = e.Details
		body.UserMessage = e.Hint
	}
	return &Response{
		Version:  Version,
		Result:   Result{Status: StatusError, Error: body},
		Metadata: meta,
	}
}
