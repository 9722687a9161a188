package token

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"gatekeeper/cmd/identity/ids"
	"gatekeeper/cmd/internal/auth/session"
)

// Claims is the identity envelope carried by an access token.
type Claims struct {
	TokenID   string
	UserID    string
	SessionID string
	Role      session.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// Manager signs and verifies access tokens.
type Manager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	ephemeral bool

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewManager builds a Manager from cfg. Without a configured key a fresh
// keypair is generated, and tokens do not survive a restart.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		secret    paseto.V4AsymmetricSecretKey
		ephemeral bool
	)
	if cfg.SecretKeyHex == "" {
		secret = paseto.NewV4AsymmetricSecretKey()
		ephemeral = true
	} else {
		k, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		secret = k
	}

	return &Manager{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		ephemeral: ephemeral,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// Ephemeral reports whether the signing key was generated at startup.
func (m *Manager) Ephemeral() bool { return m.ephemeral }

// TTL is the natural lifetime of issued tokens.
func (m *Manager) TTL() time.Duration { return m.ttl }

// PublicKeyHex exports the verification key.
func (m *Manager) PublicKeyHex() string { return m.public.ExportHex() }

// Issue signs a token for sess.
func (m *Manager) Issue(sess session.Session, now time.Time) (string, Claims, error) {
	jti, err := ids.NewULID(now)
	if err != nil {
		return "", Claims{}, err
	}
	c := Claims{
		TokenID:   jti,
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Role:      sess.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
		Issuer:    m.issuer,
	}

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetJti(c.TokenID)
	tok.SetSubject(c.UserID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(c.ExpiresAt)
	if err := tok.Set("sid", c.SessionID); err != nil {
		return "", Claims{}, err
	}
	if err := tok.Set("role", string(c.Role)); err != nil {
		return "", Claims{}, err
	}

	return tok.V4Sign(m.secret, nil), c, nil
}

// Verify parses token and checks signature, issuer and validity window.
// Revocation is the caller's concern.
func (m *Manager) Verify(token string, now time.Time) (Claims, error) {
	// Expiry is judged against the caller's clock, not the parser's wall
	// clock. Validate slightly in the future so a verifier running behind the
	// issuer does not fail "nbf".
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.ValidAt(now.Add(m.clockSkew)))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	jti, err := parsed.GetJti()
	if err != nil || jti == "" {
		return Claims{}, ErrInvalidToken
	}
	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrInvalidToken
	}
	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return Claims{}, ErrInvalidToken
	}
	roleStr, err := parsed.GetString("role")
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	role, ok := session.ParseRole(roleStr)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()
	exp, _ := parsed.GetExpiration()

	return Claims{
		TokenID:   jti,
		UserID:    sub,
		SessionID: sid,
		Role:      role,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    iss,
	}, nil
}
