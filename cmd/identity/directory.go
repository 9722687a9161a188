package identity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gatekeeper/cmd/security/password"
)

// Principal is a verified identity.
type Principal struct {
	UserID string
	Role   string
}

// Verifier checks a username/password pair.
type Verifier interface {
	VerifyCredential(ctx context.Context, username, pass string) (Principal, error)
}

type account struct {
	role string
	hash string
}

// Directory is a fixed set of accounts loaded at startup.
type Directory struct {
	pw       password.Config
	accounts map[string]account
}

// ParseDirectory reads entries of the form "user:role:argon2hash" separated
// by ';'. Usernames are normalized; roles are lower-cased and left for the
// caller to interpret.
func ParseDirectory(spec string, pw password.Config) (*Directory, error) {
	const op = "identity.ParseDirectory"

	d := &Directory{pw: pw, accounts: make(map[string]account)}
	for i, raw := range strings.Split(spec, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: fmt.Sprintf("entry %d: want user:role:hash", i)}
		}
		user := NormalizeUsername(parts[0])
		role := strings.ToLower(strings.TrimSpace(parts[1]))
		hash := strings.TrimSpace(parts[2])
		if user == "" || role == "" || !strings.HasPrefix(hash, "$argon2id$") {
			return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: fmt.Sprintf("entry %d: malformed", i)}
		}
		if _, dup := d.accounts[user]; dup {
			return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: fmt.Sprintf("entry %d: duplicate user %q", i, user)}
		}
		d.accounts[user] = account{role: role, hash: hash}
	}
	return d, nil
}

// Len returns the number of accounts.
func (d *Directory) Len() int { return len(d.accounts) }

// Users returns the usernames in sorted order.
func (d *Directory) Users() []string {
	out := make([]string, 0, len(d.accounts))
	for u := range d.accounts {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// VerifyCredential implements Verifier. Unknown users and wrong passwords are
// indistinguishable to the caller, including in timing.
func (d *Directory) VerifyCredential(ctx context.Context, username, pass string) (Principal, error) {
	const op = "identity.VerifyCredential"

	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	user := NormalizeUsername(username)
	if user == "" || pass == "" {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	acct, ok := d.accounts[user]
	if !ok {
		d.pw.DummyVerify(pass)
		return Principal{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	match, err := d.pw.Verify(acct.hash, pass)
	if err != nil {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidCredentials, Msg: "stored hash rejected"}
	}
	if !match {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	return Principal{UserID: user, Role: acct.role}, nil
}
