package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"maps"

	"github.com/olgasafonova/mediawiki-api-go/metrics"
)

// Request is a single Action API call with encoded parameters.
type Request struct {
	Action     string
	Params     map[string]string
	Post       bool // send as a form-encoded POST
	ForceHTTPS bool // rewrite the endpoint scheme to https
}

// Caller performs one API call. Implementations return *TransportError for
// network failures and *ServerError when the response carries "error".
type Caller interface {
	Do(ctx context.Context, req Request) (Object, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, req Request) (Object, error)

// Do calls f(ctx, req).
func (f CallerFunc) Do(ctx context.Context, req Request) (Object, error) {
	return f(ctx, req)
}

// Iterate runs a continuation-style action and yields the action's result
// object from every response, feeding the server's "continue" values back
// into the next request. The sequence ends when a response has no
// "continue" member. Each range over the sequence starts a fresh server
// cursor; breaking out of the loop stops further requests.
//
// Errors end the sequence: they are yielded once with a nil Object.
func Iterate(ctx context.Context, caller Caller, action string, params Params) iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		if err := checkContinuationParams(params); err != nil {
			yield(nil, err)
			return
		}
		base, err := EncodeParams(action, params)
		if err != nil {
			yield(nil, err)
			return
		}

		req := maps.Clone(base)
		req["continue"] = ""
		for {
			resp, err := caller.Do(ctx, Request{Action: action, Params: req})
			if err != nil {
				yield(nil, err)
				return
			}
			metrics.ContinuationRounds.WithLabelValues(action).Inc()

			if raw, ok := resp[action]; ok {
				result, isObj := asObject(raw)
				if !isObj {
					yield(nil, &MalformedResponseError{Action: action, Field: action, Reason: "not an object"})
					return
				}
				if !yield(result, nil) {
					return
				}
			}

			cont, ok := resp["continue"]
			if !ok {
				return
			}
			token, err := continuationToken(action, cont)
			if err != nil {
				yield(nil, err)
				return
			}

			// continuation values are not cumulative: start again from the caller's params
			req = maps.Clone(base)
			maps.Copy(req, token)
		}
	}
}

// continuationToken flattens the opaque "continue" object into string values.
func continuationToken(action string, v any) (map[string]string, error) {
	obj, ok := asObject(v)
	if !ok {
		return nil, &MalformedResponseError{Action: action, Field: "continue", Reason: "not an object"}
	}
	token := make(map[string]string, len(obj))
	for k, val := range obj {
		switch s := val.(type) {
		case string:
			token[k] = s
		case json.Number:
			token[k] = s.String()
		case bool:
			if s {
				token[k] = "1"
			}
		default:
			token[k] = fmt.Sprint(s)
		}
	}
	return token, nil
}
