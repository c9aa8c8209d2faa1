// Package identity maps request credentials to an account. The bidding
// engine never sees tokens, only resolved bidder ids.
package identity

import "errors"

var ErrUnknownToken = errors.New("unknown token")

type Account struct {
	ID    string
	Admin bool
}

type Resolver interface {
	Resolve(token string) (*Account, error)
}

// StaticResolver resolves tokens from configuration. Suitable for
// service-to-service auth where the caller set is small and known.
type StaticResolver struct {
	accounts map[string]Account
}

type TokenEntry struct {
	Token string `toml:"token"`
	ID    string `toml:"id"`
	Admin bool   `toml:"admin"`
}

func NewStaticResolver(entries []TokenEntry) *StaticResolver {
	accounts := make(map[string]Account, len(entries))
	for _, e := range entries {
		accounts[e.Token] = Account{ID: e.ID, Admin: e.Admin}
	}
	return &StaticResolver{accounts: accounts}
}

func (r *StaticResolver) Resolve(token string) (*Account, error) {
	account, ok := r.accounts[token]
	if !ok {
		return nil, ErrUnknownToken
	}
	return &account, nil
}
