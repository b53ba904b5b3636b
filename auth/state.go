package auth

// State is a step of the federated login sequence.
type State int

const (
	StateInit State = iota
	StateUsernameSubmitted
	StatePasswordSubmitted
	StateMFAPending
	StateKeepSignedInPrompt
	// StateRelay means the provider returned an auto-post form (SAML or
	// OIDC form_post) that has to be submitted to reach the portal.
	StateRelay
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateUsernameSubmitted:
		return "username_submitted"
	case StatePasswordSubmitted:
		return "password_submitted"
	case StateMFAPending:
		return "mfa_pending"
	case StateKeepSignedInPrompt:
		return "keep_signed_in_prompt"
	case StateRelay:
		return "relay"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further step follows s.
func (s State) Terminal() bool {
	return s == StateAuthenticated || s == StateFailed
}
