package authenticator

import "testing"

type fakeProxy struct {
	id          int64
	authed      bool
	rejected    bool
	challengeBy []byte
}

func (f *fakeProxy) SessionID() int64         { return f.id }
func (f *fakeProxy) Authenticate()            { f.authed = true }
func (f *fakeProxy) Challenge(payload []byte) { f.challengeBy = payload }
func (f *fakeProxy) Reject()                  { f.rejected = true }

func TestNonceChallengeAuthenticatesOnMatchingSecret(t *testing.T) {
	auth := NewNonceChallenge([]byte("sekret"))
	p := &fakeProxy{id: 1}

	auth.OnConnectRequest(p.id, nil, 0)
	auth.OnProcessConnectedSession(p, 0)
	if p.challengeBy == nil {
		t.Fatalf("expected a challenge to be issued")
	}

	creds := append(append([]byte{}, p.challengeBy...), []byte("sekret")...)
	auth.OnChallengeResponse(p, creds, 0)
	if !p.authed {
		t.Fatalf("expected session to be authenticated")
	}
	if p.rejected {
		t.Fatalf("did not expect rejection")
	}
}

func TestNonceChallengeRejectsOnWrongSecret(t *testing.T) {
	auth := NewNonceChallenge([]byte("sekret"))
	p := &fakeProxy{id: 2}

	auth.OnProcessConnectedSession(p, 0)
	creds := append(append([]byte{}, p.challengeBy...), []byte("wrong")...)
	auth.OnChallengeResponse(p, creds, 0)

	if p.authed {
		t.Fatalf("did not expect authentication")
	}
	if !p.rejected {
		t.Fatalf("expected rejection")
	}
}

func TestNonceChallengeRejectsUnknownSession(t *testing.T) {
	auth := NewNonceChallenge([]byte("sekret"))
	p := &fakeProxy{id: 3}
	auth.OnChallengeResponse(p, []byte("anything"), 0)
	if !p.rejected {
		t.Fatalf("expected rejection for a session that was never challenged")
	}
}

func TestAllowAllAuthenticatesImmediately(t *testing.T) {
	auth := AllowAll{}
	p := &fakeProxy{id: 4}
	auth.OnProcessConnectedSession(p, 0)
	if !p.authed {
		t.Fatalf("expected immediate authentication")
	}
}
