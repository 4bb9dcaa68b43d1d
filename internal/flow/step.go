package flow

import (
	"fmt"
	"maps"
	"time"

	"github.com/wadahiro/flowlens/internal/oauth"
	"github.com/wadahiro/flowlens/internal/protocol"
)

// StepType is the closed set of step variants.
type StepType string

const (
	StepStart         StepType = "start"
	StepDiscovery     StepType = "discovery"
	StepRegistration  StepType = "registration"
	StepAuthorization StepType = "authorization"
	StepCallback      StepType = "callback"
	StepToken         StepType = "token"
	StepRefresh       StepType = "refresh"
	StepIntrospect    StepType = "introspect"
	StepRevoke        StepType = "revoke"
)

// StepTypes lists every variant in protocol order.
var StepTypes = []StepType{
	StepStart, StepDiscovery, StepRegistration, StepAuthorization, StepCallback,
	StepToken, StepRefresh, StepIntrospect, StepRevoke,
}

// ParseStepType validates s as a step type.
func ParseStepType(s string) (StepType, error) {
	for _, t := range StepTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown step type %q", s)
}

// Status is a step's lifecycle status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// CanTransition reports whether a step may move from one status to another:
// pending→in_progress, in_progress→complete|error, complete|error→pending.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusComplete || to == StatusError
	case StatusComplete, StatusError:
		return to == StatusPending
	}
	return false
}

// RegistrationMode distinguishes dynamic registration from manually entered credentials.
type RegistrationMode string

const (
	RegistrationDynamic RegistrationMode = "dynamic"
	RegistrationManual  RegistrationMode = "manual"
)

// Step is one protocol operation. Exactly one variant payload, the one matching Type, is
// non-nil.
type Step struct {
	ID           string                 `json:"id"`
	Type         StepType               `json:"type"`
	Status       Status                 `json:"status"`
	Error        string                 `json:"error,omitempty"`
	HTTPExchange *protocol.HTTPExchange `json:"httpExchange,omitempty"`
	CompletedAt  *time.Time             `json:"completedAt,omitempty"`
	// Attempt increments on every pending→in_progress transition. A late result carrying
	// an older attempt is dropped.
	Attempt int `json:"attempt,omitempty"`

	Start         *StartData         `json:"start,omitempty"`
	Discovery     *DiscoveryData     `json:"discovery,omitempty"`
	Registration  *RegistrationData  `json:"registration,omitempty"`
	Authorization *AuthorizationData `json:"authorization,omitempty"`
	Callback      *CallbackData      `json:"callback,omitempty"`
	Token         *TokenData         `json:"token,omitempty"`
	Refresh       *RefreshData       `json:"refresh,omitempty"`
	Introspect    *IntrospectData    `json:"introspect,omitempty"`
	Revoke        *RevokeData        `json:"revoke,omitempty"`
}

type StartData struct {
	ServerURL string `json:"serverUrl,omitempty"`
}

type DiscoveryData struct {
	Metadata oauth.ServerMetadata `json:"metadata,omitempty"`
}

type RegistrationData struct {
	Mode        RegistrationMode           `json:"mode"`
	Request     *oauth.RegistrationRequest `json:"request,omitempty"`
	Credentials oauth.ClientCredentials    `json:"credentials,omitempty"`
}

// AuthorizationData keeps every submitted parameter so the request can be replayed.
type AuthorizationData struct {
	Params           *oauth.AuthorizationParams `json:"params,omitempty"`
	AuthorizationURL string                     `json:"authorizationUrl,omitempty"`
}

// CallbackData is what the authorization server returned on the redirect.
type CallbackData struct {
	Code             string            `json:"code,omitempty"`
	Error            string            `json:"error,omitempty"`
	ErrorDescription string            `json:"errorDescription,omitempty"`
	State            string            `json:"state,omitempty"`
	Iss              string            `json:"iss,omitempty"`
	ExtraParams      map[string]string `json:"extraParams,omitempty"`
	CallbackURL      string            `json:"callbackUrl,omitempty"`
}

type TokenData struct {
	Request   *oauth.TokenRequest             `json:"request,omitempty"`
	Tokens    oauth.TokenResponse             `json:"tokens,omitempty"`
	Decoded   map[string]*protocol.DecodedJWT `json:"decoded,omitempty"`
	ExpiresAt *time.Time                      `json:"expiresAt,omitempty"`
}

type RefreshData struct {
	Request   *oauth.RefreshRequest           `json:"request,omitempty"`
	Tokens    oauth.TokenResponse             `json:"tokens,omitempty"`
	Decoded   map[string]*protocol.DecodedJWT `json:"decoded,omitempty"`
	ExpiresAt *time.Time                      `json:"expiresAt,omitempty"`
}

type IntrospectData struct {
	Request   *oauth.InspectRequest `json:"request,omitempty"`
	TokenInfo map[string]any        `json:"tokenInfo,omitempty"`
}

type RevokeData struct {
	Request *oauth.InspectRequest `json:"request,omitempty"`
	Revoked bool                  `json:"revoked,omitempty"`
}

// NewStep returns a pending step of the given type with a fresh id and an empty payload.
func NewStep(t StepType) Step {
	s := Step{ID: NewID(), Type: t, Status: StatusPending}
	s.clearPayload()
	return s
}

// NewRegistrationStep returns a pending registration step in the given mode.
func NewRegistrationStep(mode RegistrationMode) Step {
	s := NewStep(StepRegistration)
	s.Registration.Mode = mode
	return s
}

// clearPayload replaces the payload with an empty one of the step's type. A registration
// step keeps its mode.
func (s *Step) clearPayload() {
	var mode RegistrationMode
	if s.Registration != nil {
		mode = s.Registration.Mode
	}
	s.Start, s.Discovery, s.Registration, s.Authorization = nil, nil, nil, nil
	s.Callback, s.Token, s.Refresh, s.Introspect, s.Revoke = nil, nil, nil, nil, nil
	switch s.Type {
	case StepStart:
		s.Start = &StartData{}
	case StepDiscovery:
		s.Discovery = &DiscoveryData{}
	case StepRegistration:
		if mode == "" {
			mode = RegistrationDynamic
		}
		s.Registration = &RegistrationData{Mode: mode}
	case StepAuthorization:
		s.Authorization = &AuthorizationData{}
	case StepCallback:
		s.Callback = &CallbackData{}
	case StepToken:
		s.Token = &TokenData{}
	case StepRefresh:
		s.Refresh = &RefreshData{}
	case StepIntrospect:
		s.Introspect = &IntrospectData{}
	case StepRevoke:
		s.Revoke = &RevokeData{}
	}
}

// Cleared returns s back in pending with every result and request field removed.
// The id, attempt counter and registration mode are kept.
func (s Step) Cleared() Step {
	c := Step{ID: s.ID, Type: s.Type, Status: StatusPending, Attempt: s.Attempt}
	if s.Registration != nil {
		c.Registration = &RegistrationData{Mode: s.Registration.Mode}
	}
	c.clearPayload()
	return c
}

// Clone returns a deep copy of s.
func (s Step) Clone() Step {
	c := s
	c.HTTPExchange = s.HTTPExchange.Clone()
	c.CompletedAt = cloneTime(s.CompletedAt)
	if s.Start != nil {
		d := *s.Start
		c.Start = &d
	}
	if s.Discovery != nil {
		c.Discovery = &DiscoveryData{Metadata: s.Discovery.Metadata.Clone()}
	}
	if s.Registration != nil {
		d := RegistrationData{Mode: s.Registration.Mode, Credentials: s.Registration.Credentials.Clone()}
		if r := s.Registration.Request; r != nil {
			req := *r
			req.RedirectURIs = cloneStrings(r.RedirectURIs)
			req.GrantTypes = cloneStrings(r.GrantTypes)
			req.ResponseTypes = cloneStrings(r.ResponseTypes)
			req.Contacts = cloneStrings(r.Contacts)
			d.Request = &req
		}
		c.Registration = &d
	}
	if s.Authorization != nil {
		d := *s.Authorization
		if p := s.Authorization.Params; p != nil {
			params := *p
			params.ExtraParams = maps.Clone(p.ExtraParams)
			d.Params = &params
		}
		c.Authorization = &d
	}
	if s.Callback != nil {
		d := *s.Callback
		d.ExtraParams = maps.Clone(s.Callback.ExtraParams)
		c.Callback = &d
	}
	if s.Token != nil {
		d := TokenData{Tokens: s.Token.Tokens.Clone(), Decoded: cloneDecoded(s.Token.Decoded), ExpiresAt: cloneTime(s.Token.ExpiresAt)}
		if r := s.Token.Request; r != nil {
			req := *r
			req.ExtraParams = maps.Clone(r.ExtraParams)
			d.Request = &req
		}
		c.Token = &d
	}
	if s.Refresh != nil {
		d := RefreshData{Tokens: s.Refresh.Tokens.Clone(), Decoded: cloneDecoded(s.Refresh.Decoded), ExpiresAt: cloneTime(s.Refresh.ExpiresAt)}
		if r := s.Refresh.Request; r != nil {
			req := *r
			req.ExtraParams = maps.Clone(r.ExtraParams)
			d.Request = &req
		}
		c.Refresh = &d
	}
	if s.Introspect != nil {
		d := IntrospectData{Request: cloneInspect(s.Introspect.Request)}
		d.TokenInfo = protocol.CloneObject(s.Introspect.TokenInfo)
		c.Introspect = &d
	}
	if s.Revoke != nil {
		c.Revoke = &RevokeData{Request: cloneInspect(s.Revoke.Request), Revoked: s.Revoke.Revoked}
	}
	return c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneInspect(r *oauth.InspectRequest) *oauth.InspectRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.ExtraParams = maps.Clone(r.ExtraParams)
	return &c
}

func cloneDecoded(m map[string]*protocol.DecodedJWT) map[string]*protocol.DecodedJWT {
	if m == nil {
		return nil
	}
	out := make(map[string]*protocol.DecodedJWT, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = &protocol.DecodedJWT{
			Header:    protocol.CloneObject(v.Header),
			Claims:    protocol.CloneObject(v.Claims),
			Signature: v.Signature,
		}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
