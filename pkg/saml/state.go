package saml

import (
	"encoding/json"
	"fmt"

	"github.com/ssobroker/broker/pkg/credential"
)

const flowStateVersion = 1

// flowState is the AuthnRequest context carried through the upstream OAuth
// flow inside a master-secret continuation token.
type flowState struct {
	Version     int    `json:"v"`
	RequestID   string `json:"request_id"`
	ACSURL      string `json:"acs_url"`
	Issuer      string `json:"issuer"`
	RelayState  string `json:"relay_state,omitempty"`
	EntraTenant string `json:"entra_tenant,omitempty"`
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
