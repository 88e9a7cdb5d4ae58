package identity

import (
	"time"

	"github.com/build-trust/ockam-go/ockamerr"
)

// TrustPolicy decides whether a secure channel handshake may proceed
// once the peer's Identifier is known, independent of any credential.
type TrustPolicy interface {
	Check(peer Identifier) bool
}

type allowAnyIdentity struct{}

func (allowAnyIdentity) Check(Identifier) bool { return true }

// AllowAnyIdentity accepts any peer whose identity proof verifies,
// deferring all further trust decisions to credential checks.
func AllowAnyIdentity() TrustPolicy { return allowAnyIdentity{} }

type allowIdentifierSet struct {
	allowed map[Identifier]bool
}

func (a allowIdentifierSet) Check(peer Identifier) bool {
	return a.allowed[peer]
}

// AllowIdentifiers accepts only peers whose Identifier is in the given set.
func AllowIdentifiers(ids ...Identifier) TrustPolicy {
	set := make(map[Identifier]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return allowIdentifierSet{allowed: set}
}

// Authority is a trust context's anchor: an identity whose signing keys
// are trusted to issue credentials.
type Authority struct {
	Identifier Identifier
	History    []ChangeHistoryEntry
}

// TrustContext is the set of authorities a secure channel or API
// endpoint accepts credentials from.
type TrustContext struct {
	authorities map[Identifier]Authority
}

// NewTrustContext builds a TrustContext trusting exactly the given authorities.
func NewTrustContext(authorities ...Authority) *TrustContext {
	tc := &TrustContext{authorities: make(map[Identifier]Authority, len(authorities))}
	for _, a := range authorities {
		tc.authorities[a.Identifier] = a
	}
	return tc
}

// VerifyCredential checks c against whichever authority issued it, and
// that the authority is one this context actually trusts.
func (tc *TrustContext) VerifyCredential(c Credential, now time.Time) error {
	authority, ok := tc.authorities[c.Issuer]
	if !ok {
		return ockamerr.New(ockamerr.OriginIdentity, ockamerr.KindInvalid, "credential issuer is not a trusted authority")
	}
	return VerifyCredential(c, authority.History, now)
}

// VerifySubjectAttributes verifies every credential in creds against
// this context, requires they all name the same Subject, and checks
// that subject's resulting attribute set is a superset of required.
// On success it returns the verified Subject.
func (tc *TrustContext) VerifySubjectAttributes(creds []Credential, required map[string]string, now time.Time) (Identifier, error) {
	if len(creds) == 0 {
		return "", ockamerr.New(ockamerr.OriginIdentity, ockamerr.KindInvalid, "no credentials presented")
	}

	subject := creds[0].Subject
	attrs := make(map[string]string)
	for _, c := range creds {
		if c.Subject != subject {
			return "", ockamerr.New(ockamerr.OriginIdentity, ockamerr.KindInvalid, "credentials name different subjects")
		}
		if err := tc.VerifyCredential(c, now); err != nil {
			return "", err
		}
		for k, v := range c.Attributes {
			attrs[k] = v
		}
	}

	for k, want := range required {
		if got, ok := attrs[k]; !ok || got != want {
			return "", ockamerr.New(ockamerr.OriginIdentity, ockamerr.KindInvalid, "missing or mismatched attribute: "+k)
		}
	}
	return subject, nil
}
