package flow

import "time"

// PendingCallback is what the authorization server returned on the redirect, held until
// the callback step processes it once.
type PendingCallback struct {
	Code             string            `json:"code,omitempty"`
	State            string            `json:"state,omitempty"`
	Error            string            `json:"error,omitempty"`
	ErrorDescription string            `json:"error_description,omitempty"`
	Iss              string            `json:"iss,omitempty"`
	ExtraParams      map[string]string `json:"extraParams,omitempty"`
	CallbackURL      string            `json:"callbackUrl,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

// RedirectState is saved just before navigating to the authorization endpoint.
type RedirectState struct {
	FlowID       string `json:"flowId"`
	CodeVerifier string `json:"codeVerifier"`
	State        string `json:"state"`
}
