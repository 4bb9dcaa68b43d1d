package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/wadahiro/flowlens/internal/flow"
	"github.com/wadahiro/flowlens/internal/oauth"
	"github.com/wadahiro/flowlens/internal/protocol"
)

// SubmitStart records the server URL and appends the discovery step.
func (o *Orchestrator) SubmitStart(flowID, serverURL string) error {
	serverURL = strings.TrimSpace(serverURL)
	if serverURL == "" {
		return protocol.Validationf("Server URL is required")
	}
	return o.complete(flowID, "", flow.StepStart,
		func(s *flow.Step) { s.Start.ServerURL = serverURL },
		result{
			then: func(state flow.AppState, f flow.Flow) flow.AppState {
				state = flow.UpdateFlowState(state, flowID, flow.Accumulated{ServerURL: &serverURL})
				return flow.AddStep(state, flowID, flow.NewStep(flow.StepDiscovery))
			},
		})
}

// Discover fetches the server metadata. On success the registration step is appended,
// in dynamic mode when the server advertises a registration endpoint.
func (o *Orchestrator) Discover(ctx context.Context, flowID string) error {
	f, started, err := o.begin(flowID, "", flow.StepDiscovery, nil)
	if err != nil {
		return err
	}
	if f.ServerURL == "" {
		return o.finish(flowID, started, result{err: protocol.Validationf("Server URL is required")})
	}

	md, exchange, err := o.client.Discover(ctx, f.ServerURL)
	return o.finish(flowID, started, result{
		exchange: exchange,
		err:      err,
		apply:    func(s *flow.Step) { s.Discovery.Metadata = md },
		then: func(state flow.AppState, f flow.Flow) flow.AppState {
			state = flow.UpdateFlowState(state, flowID, flow.Accumulated{Metadata: md})
			mode := flow.RegistrationManual
			if md.RegistrationEndpoint() != "" {
				mode = flow.RegistrationDynamic
			}
			return flow.AddStep(state, flowID, flow.NewRegistrationStep(mode))
		},
	})
}

// RegistrationDefaults returns the previously submitted registration request, or the
// configured template.
func (o *Orchestrator) RegistrationDefaults(flowID string) (oauth.RegistrationRequest, error) {
	f, idx, err := locate(o.holder.State(), flowID, "", flow.StepRegistration, false)
	if err != nil {
		return oauth.RegistrationRequest{}, err
	}
	if r := f.Steps[idx].Registration; r != nil && r.Request != nil {
		return cloneRegistration(*r.Request), nil
	}
	return cloneRegistration(o.registration), nil
}

// Register performs dynamic client registration and appends the authorization step.
func (o *Orchestrator) Register(ctx context.Context, flowID string, req oauth.RegistrationRequest) error {
	f, started, err := o.begin(flowID, "", flow.StepRegistration, func(s *flow.Step) {
		s.Registration.Mode = flow.RegistrationDynamic
		r := cloneRegistration(req)
		s.Registration.Request = &r
	})
	if err != nil {
		return err
	}
	endpoint := f.Metadata.RegistrationEndpoint()
	if endpoint == "" {
		return o.finish(flowID, started, result{err: protocol.Validationf("Server does not advertise a registration endpoint")})
	}

	creds, exchange, err := o.client.Register(ctx, endpoint, req)
	return o.finish(flowID, started, result{
		exchange: exchange,
		err:      err,
		apply:    func(s *flow.Step) { s.Registration.Credentials = creds },
		then:     o.credentialsAccepted(flowID, creds),
	})
}

// SetManualCredentials completes the registration step with operator-supplied client
// credentials. No request is made.
func (o *Orchestrator) SetManualCredentials(flowID string, creds oauth.ClientCredentials) error {
	if creds.ClientID() == "" {
		return protocol.Validationf("client_id is required")
	}
	creds = creds.Clone()
	return o.complete(flowID, "", flow.StepRegistration,
		func(s *flow.Step) { s.Registration.Mode = flow.RegistrationManual },
		result{
			apply: func(s *flow.Step) { s.Registration.Credentials = creds },
			then:  o.credentialsAccepted(flowID, creds),
		})
}

func cloneRegistration(r oauth.RegistrationRequest) oauth.RegistrationRequest {
	r.RedirectURIs = slices.Clone(r.RedirectURIs)
	r.GrantTypes = slices.Clone(r.GrantTypes)
	r.ResponseTypes = slices.Clone(r.ResponseTypes)
	r.Contacts = slices.Clone(r.Contacts)
	return r
}

func (o *Orchestrator) credentialsAccepted(flowID string, creds oauth.ClientCredentials) func(flow.AppState, flow.Flow) flow.AppState {
	return func(state flow.AppState, _ flow.Flow) flow.AppState {
		state = flow.UpdateFlowState(state, flowID, flow.Accumulated{Credentials: creds})
		return flow.AddStep(state, flowID, flow.NewStep(flow.StepAuthorization))
	}
}

// AuthorizationDefaults returns the parameters last submitted on the authorization step
// for exact replay. A fresh step gets the registered client id, the advertised scopes
// (or "openid"), a new state and a new PKCE pair.
func (o *Orchestrator) AuthorizationDefaults(flowID string) (oauth.AuthorizationParams, error) {
	f, idx, err := locate(o.holder.State(), flowID, "", flow.StepAuthorization, false)
	if err != nil {
		return oauth.AuthorizationParams{}, err
	}
	if a := f.Steps[idx].Authorization; a != nil && a.Params != nil {
		p := *a.Params
		p.ExtraParams = maps.Clone(a.Params.ExtraParams)
		return p, nil
	}

	pkce, err := protocol.GeneratePKCE()
	if err != nil {
		return oauth.AuthorizationParams{}, fmt.Errorf("generate pkce: %w", err)
	}
	state, err := protocol.GenerateState()
	if err != nil {
		return oauth.AuthorizationParams{}, fmt.Errorf("generate state: %w", err)
	}
	scope := "openid"
	if scopes := f.Metadata.ScopesSupported(); len(scopes) > 0 {
		scope = strings.Join(scopes, " ")
	}
	return oauth.AuthorizationParams{
		ResponseType:        "code",
		ClientID:            f.Credentials.ClientID(),
		RedirectURI:         o.redirectURI,
		Scope:               scope,
		State:               state,
		CodeChallenge:       pkce.CodeChallenge,
		CodeChallengeMethod: pkce.CodeChallengeMethod,
		CodeVerifier:        pkce.CodeVerifier,
	}, nil
}

// Authorize builds the authorization URL, saves the pre-redirect record and appends the
// callback step. The caller navigates to the returned URL; the flow resumes in
// ResumeCallback.
func (o *Orchestrator) Authorize(flowID string, p oauth.AuthorizationParams) (string, error) {
	f, started, err := o.begin(flowID, "", flow.StepAuthorization, func(s *flow.Step) {
		params := p
		params.ExtraParams = maps.Clone(p.ExtraParams)
		s.Authorization.Params = &params
	})
	if err != nil {
		return "", err
	}

	endpoint := f.Metadata.AuthorizationEndpoint()
	if endpoint == "" {
		return "", o.finish(flowID, started, result{err: protocol.Validationf("Server does not advertise an authorization endpoint")})
	}
	authURL, err := oauth.BuildAuthorizationURL(endpoint, p)
	if err == nil {
		err = o.store.SaveRedirectState(flow.RedirectState{FlowID: flowID, CodeVerifier: p.CodeVerifier, State: p.State})
		if err != nil {
			err = fmt.Errorf("save redirect state: %w", err)
		}
	}
	if err := o.finish(flowID, started, result{
		err:   err,
		apply: func(s *flow.Step) { s.Authorization.AuthorizationURL = authURL },
		then: func(state flow.AppState, _ flow.Flow) flow.AppState {
			return flow.AddStep(state, flowID, flow.NewStep(flow.StepCallback))
		},
	}); err != nil {
		return "", err
	}
	return authURL, nil
}

// CaptureCallback stores the parameters of the redirect the authorization server sent
// back, replacing any earlier unprocessed one.
func (o *Orchestrator) CaptureCallback(callbackURL string) error {
	p := protocol.ParseCallbackParams(callbackURL)
	return o.store.SavePendingCallback(flow.PendingCallback{
		Code:             p.Code,
		State:            p.State,
		Error:            p.Error,
		ErrorDescription: p.ErrorDescription,
		Iss:              p.Iss,
		ExtraParams:      p.Extra,
		CallbackURL:      callbackURL,
		Timestamp:        now(),
	})
}

// ResumeCallback processes the captured callback once against the pre-redirect record.
// It returns the id of the flow it resumed, or "" when there was nothing to resume. Both
// ephemeral records are cleared whenever a callback was present.
func (o *Orchestrator) ResumeCallback() (string, error) {
	cb, err := o.store.PendingCallback()
	if err != nil {
		return "", fmt.Errorf("read pending callback: %w", err)
	}
	if cb == nil {
		return "", nil
	}
	defer o.clearEphemeral()

	rs, err := o.store.RedirectState()
	if err != nil {
		return "", fmt.Errorf("read redirect state: %w", err)
	}
	if rs == nil {
		o.logger.Warn("callback received without a pending authorization request")
		return "", nil
	}

	var (
		resumed   string
		outcome   error
		completed bool
	)
	_ = o.holder.Update(func(state flow.AppState) (flow.AppState, error) {
		f, idx, err := locate(state, rs.FlowID, "", flow.StepCallback, false)
		if err != nil {
			o.logger.Warn("dropping callback", "flow", rs.FlowID, "error", err)
			return state, err
		}
		resumed = f.ID
		state = flow.SetActiveFlow(state, f.ID)
		if s := f.Steps[idx]; s.Status != flow.StatusPending {
			state, _ = flow.ResetStepAt(state, f.ID, idx)
		}
		stepID := f.Steps[idx].ID

		received := func(s *flow.Step) {
			s.Status = flow.StatusInProgress
			s.Attempt++
			s.Callback.State = cb.State
			s.Callback.Iss = cb.Iss
			s.Callback.ExtraParams = maps.Clone(cb.ExtraParams)
			s.Callback.CallbackURL = cb.CallbackURL
		}

		var r result
		switch {
		case cb.State != rs.State:
			r.err = &protocol.IntegrityError{Message: "State mismatch - possible CSRF attack"}
		case cb.Error != "":
			msg := cb.Error
			if cb.ErrorDescription != "" {
				msg += ": " + cb.ErrorDescription
			}
			r.err = &protocol.ProtocolError{Code: cb.Error, Description: cb.ErrorDescription, Message: msg}
			code, desc := cb.Error, cb.ErrorDescription
			received = chain(received, func(s *flow.Step) {
				s.Callback.Error = code
				s.Callback.ErrorDescription = desc
			})
		case cb.Code != "":
			completed = true
			code := cb.Code
			r.apply = func(s *flow.Step) { s.Callback.Code = code }
			r.then = func(state flow.AppState, f flow.Flow) flow.AppState {
				if i := f.FirstStepIndex(flow.StepAuthorization); i >= 0 {
					if a := f.Steps[i].Authorization; a != nil && a.Params != nil && a.Params.CodeVerifier == "" {
						verifier := rs.CodeVerifier
						state = flow.UpdateStep(state, f.ID, f.Steps[i].ID, func(s *flow.Step) {
							s.Authorization.Params.CodeVerifier = verifier
						})
					}
				}
				return flow.AddStep(state, f.ID, flow.NewStep(flow.StepToken))
			}
		default:
			r.err = protocol.Validationf("Authorization response missing code")
		}
		outcome = r.err

		state = flow.UpdateStep(state, f.ID, stepID, received)
		return o.record(state, f.ID, stepID, r), nil
	})
	if resumed != "" {
		o.logger.Info("callback processed", "flow", resumed, "complete", completed)
	}
	return resumed, outcome
}

func chain(fns ...func(*flow.Step)) func(*flow.Step) {
	return func(s *flow.Step) {
		for _, fn := range fns {
			fn(s)
		}
	}
}

func (o *Orchestrator) clearEphemeral() {
	if err := o.store.ClearPendingCallback(); err != nil {
		o.logger.Error("failed to clear pending callback", "error", err)
	}
	if err := o.store.ClearRedirectState(); err != nil {
		o.logger.Error("failed to clear redirect state", "error", err)
	}
}

// clientAuth derives token endpoint authentication from the registered credentials.
func clientAuth(creds oauth.ClientCredentials) oauth.ClientAuth {
	return oauth.ClientAuth{
		AuthMethod:   creds.AuthMethod(),
		ClientID:     creds.ClientID(),
		ClientSecret: creds.ClientSecret(),
	}
}

// TokenDefaults returns the request last submitted on the token step, or one derived from
// the flow: the callback code, the authorization step's redirect URI and verifier, and
// the registered client authentication.
func (o *Orchestrator) TokenDefaults(flowID string) (oauth.TokenRequest, error) {
	f, idx, err := locate(o.holder.State(), flowID, "", flow.StepToken, false)
	if err != nil {
		return oauth.TokenRequest{}, err
	}
	if t := f.Steps[idx].Token; t != nil && t.Request != nil {
		req := *t.Request
		req.ExtraParams = maps.Clone(t.Request.ExtraParams)
		return req, nil
	}

	req := oauth.TokenRequest{
		TokenEndpoint: f.Metadata.TokenEndpoint(),
		GrantType:     "authorization_code",
		RedirectURI:   o.redirectURI,
		ClientAuth:    clientAuth(f.Credentials),
	}
	if i := f.FirstStepIndex(flow.StepCallback); i >= 0 && f.Steps[i].Callback != nil {
		req.Code = f.Steps[i].Callback.Code
	}
	if i := f.FirstStepIndex(flow.StepAuthorization); i >= 0 {
		if a := f.Steps[i].Authorization; a != nil && a.Params != nil {
			req.CodeVerifier = a.Params.CodeVerifier
			if a.Params.RedirectURI != "" {
				req.RedirectURI = a.Params.RedirectURI
			}
		}
	}
	return req, nil
}

// ExchangeToken redeems the authorization code. A refresh step is appended when the
// response carries a refresh_token.
func (o *Orchestrator) ExchangeToken(ctx context.Context, flowID string, req oauth.TokenRequest) error {
	f, ok := flow.FindFlow(o.holder.State(), flowID)
	if ok && req.TokenEndpoint == "" {
		req.TokenEndpoint = f.Metadata.TokenEndpoint()
	}
	_, started, err := o.begin(flowID, "", flow.StepToken, func(s *flow.Step) {
		r := req
		r.ExtraParams = maps.Clone(req.ExtraParams)
		s.Token.Request = &r
	})
	if err != nil {
		return err
	}

	tokens, exchange, err := o.client.ExchangeToken(ctx, req)
	return o.finish(flowID, started, result{
		exchange: exchange,
		err:      err,
		apply: func(s *flow.Step) {
			s.Token.Tokens = tokens
			s.Token.Decoded = protocol.DecodeTokenClaims(tokens)
			s.Token.ExpiresAt = expiryOf(tokens)
		},
		then: func(state flow.AppState, _ flow.Flow) flow.AppState {
			state = flow.UpdateFlowState(state, flowID, flow.Accumulated{Tokens: tokens})
			if tokens.RefreshToken() != "" {
				state = flow.AddStep(state, flowID, flow.NewStep(flow.StepRefresh))
			}
			return state
		},
	})
}

// RefreshDefaults returns the request last submitted on a refresh step, or one using the
// held refresh token and the client authentication of the token step.
func (o *Orchestrator) RefreshDefaults(flowID, stepID string) (oauth.RefreshRequest, error) {
	f, idx, err := locate(o.holder.State(), flowID, stepID, flow.StepRefresh, true)
	if err != nil {
		return oauth.RefreshRequest{}, err
	}
	if r := f.Steps[idx].Refresh; r != nil && r.Request != nil {
		req := *r.Request
		req.ExtraParams = maps.Clone(r.Request.ExtraParams)
		return req, nil
	}
	return oauth.RefreshRequest{
		TokenEndpoint: f.Metadata.TokenEndpoint(),
		RefreshToken:  f.Tokens.RefreshToken(),
		ClientAuth:    flowClientAuth(f),
	}, nil
}

// expiryOf returns when the access token expires, if the response says.
func expiryOf(tokens oauth.TokenResponse) *time.Time {
	exp := tokens.Token(now()).Expiry
	if exp.IsZero() {
		return nil
	}
	return &exp
}

// flowClientAuth prefers the authentication last used at the token endpoint.
func flowClientAuth(f flow.Flow) oauth.ClientAuth {
	if i := f.FirstStepIndex(flow.StepToken); i >= 0 {
		if t := f.Steps[i].Token; t != nil && t.Request != nil {
			return t.Request.ClientAuth
		}
	}
	return clientAuth(f.Credentials)
}

// Refresh runs a refresh grant on a refresh step (the last one when stepID is empty).
// The returned tokens are merged into the flow's tokens, never replacing fields the
// response omits. Another refresh step is appended when a refresh_token is held and no
// other refresh step is pending.
func (o *Orchestrator) Refresh(ctx context.Context, flowID, stepID string, req oauth.RefreshRequest) error {
	f, ok := flow.FindFlow(o.holder.State(), flowID)
	if ok && req.TokenEndpoint == "" {
		req.TokenEndpoint = f.Metadata.TokenEndpoint()
	}
	_, started, err := o.begin(flowID, stepID, flow.StepRefresh, func(s *flow.Step) {
		r := req
		r.ExtraParams = maps.Clone(req.ExtraParams)
		s.Refresh.Request = &r
	})
	if err != nil {
		return err
	}

	tokens, exchange, err := o.client.RefreshToken(ctx, req)
	return o.finish(flowID, started, result{
		exchange: exchange,
		err:      err,
		apply: func(s *flow.Step) {
			s.Refresh.Tokens = tokens
			s.Refresh.Decoded = protocol.DecodeTokenClaims(tokens)
			s.Refresh.ExpiresAt = expiryOf(tokens)
		},
		then: func(state flow.AppState, f flow.Flow) flow.AppState {
			merged := f.Tokens.Merge(tokens)
			state = flow.UpdateFlowState(state, flowID, flow.Accumulated{Tokens: merged})
			if merged.RefreshToken() != "" && !hasPending(f, flow.StepRefresh, started.ID) {
				state = flow.AddStep(state, flowID, flow.NewStep(flow.StepRefresh))
			}
			return state
		},
	})
}

// AddInspectionStep appends a pending introspect or revoke step.
func (o *Orchestrator) AddInspectionStep(flowID string, t flow.StepType) (flow.Step, error) {
	if t != flow.StepIntrospect && t != flow.StepRevoke {
		return flow.Step{}, protocol.Validationf("Unsupported step type: %s", t)
	}
	step := flow.NewStep(t)
	err := o.holder.Update(func(state flow.AppState) (flow.AppState, error) {
		if _, ok := flow.FindFlow(state, flowID); !ok {
			return state, fmt.Errorf("%s: %w", flowID, ErrFlowNotFound)
		}
		return flow.AddStep(state, flowID, step), nil
	})
	if err != nil {
		return flow.Step{}, err
	}
	return step, nil
}

// InspectDefaults returns the request last submitted on an introspect or revoke step, or
// one for the held access token.
func (o *Orchestrator) InspectDefaults(flowID, stepID string, t flow.StepType) (oauth.InspectRequest, error) {
	f, idx, err := locate(o.holder.State(), flowID, stepID, t, true)
	if err != nil {
		return oauth.InspectRequest{}, err
	}
	s := f.Steps[idx]
	var prev *oauth.InspectRequest
	endpoint := f.Metadata.IntrospectionEndpoint()
	switch {
	case s.Introspect != nil:
		prev = s.Introspect.Request
	case s.Revoke != nil:
		prev = s.Revoke.Request
		endpoint = f.Metadata.RevocationEndpoint()
	}
	if prev != nil {
		req := *prev
		req.ExtraParams = maps.Clone(prev.ExtraParams)
		return req, nil
	}
	return oauth.InspectRequest{
		Endpoint:      endpoint,
		Token:         f.Tokens.AccessToken(),
		TokenTypeHint: "access_token",
		ClientAuth:    flowClientAuth(f),
	}, nil
}

// Introspect queries the introspection endpoint (RFC 7662).
func (o *Orchestrator) Introspect(ctx context.Context, flowID, stepID string, req oauth.InspectRequest) error {
	f, ok := flow.FindFlow(o.holder.State(), flowID)
	if ok && req.Endpoint == "" {
		req.Endpoint = f.Metadata.IntrospectionEndpoint()
	}
	_, started, err := o.begin(flowID, stepID, flow.StepIntrospect, func(s *flow.Step) {
		r := req
		r.ExtraParams = maps.Clone(req.ExtraParams)
		s.Introspect.Request = &r
	})
	if err != nil {
		return err
	}

	info, exchange, err := o.client.Introspect(ctx, req)
	return o.finish(flowID, started, result{
		exchange: exchange,
		err:      err,
		apply:    func(s *flow.Step) { s.Introspect.TokenInfo = info },
	})
}

// Revoke revokes a token (RFC 7009).
func (o *Orchestrator) Revoke(ctx context.Context, flowID, stepID string, req oauth.InspectRequest) error {
	f, ok := flow.FindFlow(o.holder.State(), flowID)
	if ok && req.Endpoint == "" {
		req.Endpoint = f.Metadata.RevocationEndpoint()
	}
	_, started, err := o.begin(flowID, stepID, flow.StepRevoke, func(s *flow.Step) {
		r := req
		r.ExtraParams = maps.Clone(req.ExtraParams)
		s.Revoke.Request = &r
	})
	if err != nil {
		return err
	}

	exchange, err := o.client.Revoke(ctx, req)
	return o.finish(flowID, started, result{
		exchange: exchange,
		err:      err,
		apply:    func(s *flow.Step) { s.Revoke.Revoked = true },
	})
}
