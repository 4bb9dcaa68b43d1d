package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wadahiro/flowlens/internal/flow"
	"github.com/wadahiro/flowlens/internal/oauth"
	"github.com/wadahiro/flowlens/internal/protocol"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [flow-id]",
		Short: "Print a flow's steps with their captured HTTP exchanges (default: the active flow)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := loadSavedState()
			if err != nil {
				return err
			}
			f, err := selectFlow(state, args)
			if err != nil {
				return err
			}
			return renderFlow(cmd.OutOrStdout(), f)
		},
	}
}

// selectFlow returns the flow named by args, or the active flow when args is empty.
func selectFlow(state flow.AppState, args []string) (flow.Flow, error) {
	if len(args) == 0 {
		f, ok := flow.ActiveFlow(state)
		if !ok {
			return flow.Flow{}, fmt.Errorf("no active flow; pass a flow id")
		}
		return f, nil
	}
	f, ok := flow.FindFlow(state, args[0])
	if !ok {
		return flow.Flow{}, fmt.Errorf("flow %s not found", args[0])
	}
	return f, nil
}

func renderFlow(w io.Writer, f flow.Flow) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", f.Name, f.ID)
	if f.ServerURL != "" {
		fmt.Fprintf(&b, "server: %s\n", f.ServerURL)
	}
	if f.ParentFlowID != "" && f.ParentStepIndex != nil {
		fmt.Fprintf(&b, "forked from %s at step %d\n", f.ParentFlowID, *f.ParentStepIndex)
	}

	for i, s := range f.Steps {
		fmt.Fprintf(&b, "\n[%d] %s  %s", i, s.Type, s.Status)
		if s.CompletedAt != nil {
			fmt.Fprintf(&b, "  %s", s.CompletedAt.Format(time.RFC3339))
		}
		b.WriteString("\n")
		if s.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", s.Error)
		}
		if s.HTTPExchange != nil {
			writeExchange(&b, s.HTTPExchange)
		}
		switch {
		case s.Authorization != nil && s.Authorization.AuthorizationURL != "":
			fmt.Fprintf(&b, "    url: %s\n", s.Authorization.AuthorizationURL)
		case s.Callback != nil && s.Callback.CallbackURL != "":
			fmt.Fprintf(&b, "    callback: %s\n", s.Callback.CallbackURL)
		case s.Token != nil:
			writeTokens(&b, s.Token.Tokens, s.Token.Decoded, s.Token.ExpiresAt)
		case s.Refresh != nil:
			writeTokens(&b, s.Refresh.Tokens, s.Refresh.Decoded, s.Refresh.ExpiresAt)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeExchange(b *strings.Builder, x *protocol.HTTPExchange) {
	fmt.Fprintf(b, "    > %s %s\n", x.Request.Method, x.Request.URL)
	writeIndented(b, "    > ", protocol.FormatHTTPHeaders(x.Request.Headers))
	if x.Request.Body != "" {
		writeIndented(b, "    > ", x.Request.Body)
	}
	if x.Response == nil {
		if x.Error != "" {
			fmt.Fprintf(b, "    ! %s\n", x.Error)
		}
		return
	}
	fmt.Fprintf(b, "    < %s\n", protocol.FormatHTTPStatusLine(x.Response.Status))
	writeIndented(b, "    < ", protocol.FormatHTTPHeaders(x.Response.Headers))
	if x.Response.Body != "" {
		writeIndented(b, "    < ", protocol.PrettyJSON([]byte(x.Response.Body)))
	}
}

func writeTokens(b *strings.Builder, tokens oauth.TokenResponse, decoded map[string]*protocol.DecodedJWT, expiresAt *time.Time) {
	if expiresAt != nil {
		fmt.Fprintf(b, "    expires: %s\n", expiresAt.Format(time.RFC3339))
	}
	for _, name := range protocol.SortedKeys(decoded) {
		d := decoded[name]
		if d == nil {
			continue
		}
		raw, _ := tokens[name].(string)
		alg, kid := protocol.ExtractJWTHeaderInfo(raw)
		fmt.Fprintf(b, "    %s: alg=%s", name, alg)
		if kid != "" {
			fmt.Fprintf(b, " kid=%s", kid)
		}
		b.WriteString("\n")
		for _, claim := range protocol.SortedKeys(d.Claims) {
			fmt.Fprintf(b, "      %s: %s\n", claim, protocol.FormatValue(d.Claims[claim]))
		}
	}
}

func writeIndented(b *strings.Builder, prefix, text string) {
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		b.WriteString(prefix + line + "\n")
	}
}
