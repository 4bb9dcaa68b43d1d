package protocol

import (
	"maps"
	"net/url"
	"slices"
)

// KeyValue represents a parsed URL parameter.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ParseURLParams returns the parameters of a URL or bare query string
// ("a=1&b=2") ordered by key, repeated keys keeping their order.
// Empty or unparseable input yields nil.
func ParseURLParams(raw string) []KeyValue {
	values := queryValues(raw)
	if len(values) == 0 {
		return nil
	}
	var result []KeyValue
	for _, k := range slices.Sorted(maps.Keys(values)) {
		for _, v := range values[k] {
			result = append(result, KeyValue{Key: k, Value: v})
		}
	}
	return result
}

func queryValues(raw string) url.Values {
	if raw == "" {
		return nil
	}
	if u, err := url.Parse(raw); err == nil && (u.RawQuery != "" || u.Scheme != "") {
		return u.Query()
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil
	}
	return values
}

// CallbackParams are the parameters an authorization server appends to the redirect URI.
type CallbackParams struct {
	Code             string            `json:"code,omitempty"`
	State            string            `json:"state,omitempty"`
	Error            string            `json:"error,omitempty"`
	ErrorDescription string            `json:"error_description,omitempty"`
	Iss              string            `json:"iss,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// ParseCallbackParams splits a redirect URL's query into the known authorization response
// parameters and everything else. The first value of a repeated parameter wins.
func ParseCallbackParams(rawURL string) CallbackParams {
	var p CallbackParams
	seen := make(map[string]bool)
	for _, kv := range ParseURLParams(rawURL) {
		if seen[kv.Key] {
			continue
		}
		seen[kv.Key] = true
		switch kv.Key {
		case "code":
			p.Code = kv.Value
		case "state":
			p.State = kv.Value
		case "error":
			p.Error = kv.Value
		case "error_description":
			p.ErrorDescription = kv.Value
		case "iss":
			p.Iss = kv.Value
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]string)
			}
			p.Extra[kv.Key] = kv.Value
		}
	}
	return p
}
