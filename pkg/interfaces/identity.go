package interfaces

// Identity is the locally persisted join identity driving auto-rejoin.
type Identity struct {
	SessionCode string `json:"session_code"`
	Alias       string `json:"alias"`
}

// IdentityStore persists the local identity at two scopes: a global scope
// shared across practice activities and a per-activity scope. The global
// identity, when present, wins and is re-persisted into the activity scope.
// Client tokens are stored per (session code, alias) pair so the same
// device can silently resume an alias it held before.
type IdentityStore interface {
	LoadGlobal() (*Identity, error)
	LoadActivity() (*Identity, error)
	SaveGlobal(id *Identity) error
	SaveActivity(id *Identity) error

	// Token returns the stored client token for a (code, alias) pair.
	Token(code, alias string) (string, bool)
	// SaveToken records the client token for a (code, alias) pair.
	SaveToken(code, alias, token string) error

	// Clear removes the identity at both scopes and drops the token
	// entry for the given pair. Other pairs' tokens survive.
	Clear(code, alias string) error
}
