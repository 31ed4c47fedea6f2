package models

// Identity is the decoded identity carried by a provider credential.
type Identity struct {
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	PictureURL  string `json:"picture"`
	Subject     string `json:"sub"`
}

// AuthState is the published authentication state of one session.
//
// IsAuthorized is only ever true together with IsAuthenticated.
type AuthState struct {
	IsAuthenticated bool      `json:"isAuthenticated"`
	IsAuthorized    bool      `json:"isAuthorized"`
	Identity        *Identity `json:"user"`
	Error           *string   `json:"error"`
}

// SignedOutState returns the default unauthenticated state.
func SignedOutState() AuthState {
	return AuthState{}
}

// ErrorMessage returns the state's error text or "" when there is none.
func (s AuthState) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}

// Valid reports whether the state satisfies the authorization invariant.
func (s AuthState) Valid() bool {
	if s.IsAuthorized && !s.IsAuthenticated {
		return false
	}
	if s.IsAuthenticated && s.Identity == nil {
		return false
	}
	return true
}
