package oidc

import (
	"encoding/json"
	"fmt"

	"github.com/ssobroker/broker/pkg/credential"
)

// Versioned flow payloads. A bumped version invalidates outstanding tokens,
// which is the desired failure mode after a format change.
const (
	flowStateVersion = 1
	grantVersion     = 1
)

// flowState is the payload carried through /authorize, /callback and
// /consent inside a master-secret continuation token.
type flowState struct {
	Version      int    `json:"v"`
	ClientID     string `json:"client_id"`
	RedirectURI  string `json:"redirect_uri"`
	ClientState  string `json:"state,omitempty"`
	UpstreamCode string `json:"oauth_code,omitempty"`
}

func encodeFlowState(st flowState) ([]byte, error) {
	st.Version = flowStateVersion
	return json.Marshal(st)
}

func decodeFlowState(data []byte) (flowState, error) {
	var st flowState
	if err := credential.DecodeStrict(data, &st); err != nil {
		return flowState{}, fmt.Errorf("%w: %v", credential.ErrInvalidToken, err)
	}
	if st.Version != flowStateVersion {
		return flowState{}, fmt.Errorf("%w: unsupported state version %d", credential.ErrInvalidToken, st.Version)
	}
	return st, nil
}

// grant is the payload of an authorization code. It is encrypted under the
// client's derived secret, never the master secret.
type grant struct {
	Version  int    `json:"v"`
	Email    string `json:"email"`
	ClientID string `json:"client_id"`
}

func encodeGrant(g grant) ([]byte, error) {
	g.Version = grantVersion
	return json.Marshal(g)
}

func decodeGrant(data []byte) (grant, error) {
	var g grant
	if err := credential.DecodeStrict(data, &g); err != nil {
		return grant{}, fmt.Errorf("%w: %v", credential.ErrInvalidToken, err)
	}
	if g.Version != grantVersion {
		return grant{}, fmt.Errorf("%w: unsupported grant version %d", credential.ErrInvalidToken, g.Version)
	}
	return g, nil
}
