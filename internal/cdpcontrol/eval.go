package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
)

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// decodeEnvelope parses the string returned by a wrapped script and
// unmarshals its data into out.
func decodeEnvelope(raw string, out any) error {
	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// evalError maps a transport-level evaluation failure to a CodedError.
func evalError(evalCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
		return newError(CodeEvalTimeout, "evaluation timed out", err)
	}
	return newError(CodeEvalFailure, "evaluation failed", err)
}

// JSString returns v as a quoted JS string literal.
func JSString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// JSJSON returns v encoded as a JS literal.
func JSJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

// WrapEval wraps body in a synchronous IIFE that converts thrown errors to
// an error envelope. body must return JSON.stringify({ok:true,data:...}).
func WrapEval(body string) string { return buildIIFE(false, body) }

// WrapEvalAsync is WrapEval for bodies that await.
func WrapEvalAsync(body string) string { return buildIIFE(true, body) }
