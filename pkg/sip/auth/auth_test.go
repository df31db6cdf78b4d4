package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/sip_client/pkg/sip/message"
)

func challengeResponse(t *testing.T, req *message.Request, status int, header, value string) *message.Response {
	t.Helper()
	resp := message.NewResponse(req, status, "")
	resp.SetHeader(header, value)
	return resp
}

func registerRequest(t *testing.T) *message.Request {
	t.Helper()
	req, err := message.NewRequest(message.MethodREGISTER, message.MustParseURI("sip:biloxi.com")).
		Via("UDP", "client.biloxi.com", 5060, message.GenerateBranch()).
		From(message.MustParseURI("sip:bob@biloxi.com"), "", "fromtag").
		To(message.MustParseURI("sip:bob@biloxi.com"), "").
		CallID("authtest@client.biloxi.com").
		CSeq(1, message.MethodREGISTER).
		Contact(message.MustParseURI("sip:bob@192.0.2.4")).
		Build()
	require.NoError(t, err)
	return req
}

func TestAuthorize_WWWAuthenticate(t *testing.T) {
	req := registerRequest(t)
	resp := challengeResponse(t, req, message.StatusUnauthorized, "WWW-Authenticate",
		`Digest realm="biloxi.com", nonce="84f1c1ae6cbe5ua9c8e88dfa3ecm3459", qop="auth", algorithm=MD5`)

	a := New(Credentials{Username: "bob", Password: "secret"})
	require.NoError(t, a.Authorize(req, resp))

	authz := req.GetHeader("Authorization")
	require.NotEmpty(t, authz)
	assert.Contains(t, authz, `username="bob"`)
	assert.Contains(t, authz, `realm="biloxi.com"`)
	assert.Contains(t, authz, `nonce="84f1c1ae6cbe5ua9c8e88dfa3ecm3459"`)
	assert.Contains(t, authz, `uri="sip:biloxi.com"`)
	assert.Contains(t, authz, "response=")
	assert.Empty(t, req.GetHeader("Proxy-Authorization"))
}

func TestAuthorize_ProxyAuthenticate(t *testing.T) {
	req := registerRequest(t)
	resp := challengeResponse(t, req, message.StatusProxyAuthRequired, "Proxy-Authenticate",
		`Digest realm="proxy.biloxi.com", nonce="abc123"`)

	a := New(Credentials{Username: "bob", Password: "secret"})
	require.NoError(t, a.Authorize(req, resp))

	assert.NotEmpty(t, req.GetHeader("Proxy-Authorization"))
	assert.Empty(t, req.GetHeader("Authorization"))
}

// Challenge с учетными данными из RFC 2617 3.5. При фиксированных
// nonce и cnonce digest детерминирован:
//
//	HA1 = MD5("Mufasa:testrealm@host.com:Circle Of Life")
//	    = 939e7578ed9e3c518a452acee763bce9 (значение из RFC)
//	HA2 = MD5("REGISTER:sip:biloxi.com")
//	response = MD5(HA1:nonce:00000001:0a4f113b:auth:HA2)
func TestAuthorize_RFC2617Parameters(t *testing.T) {
	req := registerRequest(t)
	resp := challengeResponse(t, req, message.StatusUnauthorized, "WWW-Authenticate",
		`Digest realm="testrealm@host.com", qop="auth", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", opaque="5ccc069c403ebaf9f0171e9517f40e41"`)

	a := New(Credentials{Username: "Mufasa", Password: "Circle Of Life"})
	a.cnonce = "0a4f113b"

	require.NoError(t, a.Authorize(req, resp))

	authz := req.GetHeader("Authorization")
	assert.Contains(t, authz, `username="Mufasa"`)
	assert.Contains(t, authz, `cnonce="0a4f113b"`)
	assert.Contains(t, authz, "nc=00000001")
	assert.Contains(t, authz, `opaque="5ccc069c403ebaf9f0171e9517f40e41"`)
	assert.Contains(t, authz, `response="d093b282036953973abf984b7314e035"`)
}

func TestAuthorize_RepeatedChallengeFails(t *testing.T) {
	req := registerRequest(t)
	resp := challengeResponse(t, req, message.StatusUnauthorized, "WWW-Authenticate",
		`Digest realm="biloxi.com", nonce="n1"`)

	a := New(Credentials{Username: "bob", Password: "wrong"})
	require.NoError(t, a.Authorize(req, resp))

	// Сервер снова отвечает 401 без stale: пароль неверен
	resp2 := challengeResponse(t, req, message.StatusUnauthorized, "WWW-Authenticate",
		`Digest realm="biloxi.com", nonce="n2"`)
	err := a.Authorize(req, resp2)
	assert.True(t, errors.Is(err, ErrAuthFailed))
}

func TestAuthorize_StaleNonceRetries(t *testing.T) {
	req := registerRequest(t)
	resp := challengeResponse(t, req, message.StatusUnauthorized, "WWW-Authenticate",
		`Digest realm="biloxi.com", nonce="n1"`)

	a := New(Credentials{Username: "bob", Password: "secret"})
	require.NoError(t, a.Authorize(req, resp))
	first := req.GetHeader("Authorization")

	// stale=true означает устаревший nonce, повтор допустим
	resp2 := challengeResponse(t, req, message.StatusUnauthorized, "WWW-Authenticate",
		`Digest realm="biloxi.com", nonce="n2", stale=true`)
	require.NoError(t, a.Authorize(req, resp2))
	second := req.GetHeader("Authorization")

	assert.NotEqual(t, first, second)
	assert.Contains(t, second, `nonce="n2"`)
}

func TestChallengeFrom_Errors(t *testing.T) {
	req := registerRequest(t)

	// 200 не является challenge
	ok := message.NewResponse(req, 200, "")
	_, err := ChallengeFrom(ok)
	assert.True(t, errors.Is(err, ErrNoChallenge))

	// 401 без заголовка
	bare := message.NewResponse(req, 401, "")
	_, err = ChallengeFrom(bare)
	assert.True(t, errors.Is(err, ErrNoChallenge))

	// Мусор вместо challenge
	garbage := challengeResponse(t, req, 401, "WWW-Authenticate", "NotDigest ???")
	_, err = ChallengeFrom(garbage)
	assert.True(t, errors.Is(err, ErrInvalidChallenge))
}

func TestIsChallenge(t *testing.T) {
	req := registerRequest(t)
	assert.True(t, IsChallenge(message.NewResponse(req, 401, "")))
	assert.True(t, IsChallenge(message.NewResponse(req, 407, "")))
	assert.False(t, IsChallenge(message.NewResponse(req, 200, "")))
	assert.False(t, IsChallenge(message.NewResponse(req, 403, "")))
}

func TestAuthorize_QopAuthFormat(t *testing.T) {
	req := registerRequest(t)
	resp := challengeResponse(t, req, 401, "WWW-Authenticate",
		`Digest realm="biloxi.com", nonce="qoptest", qop="auth"`)

	a := New(Credentials{Username: "bob", Password: "secret"})
	a.cnonce = "deadbeef"
	require.NoError(t, a.Authorize(req, resp))

	authz := req.GetHeader("Authorization")
	if !strings.HasPrefix(authz, "Digest ") {
		t.Fatalf("authorization must start with Digest: %q", authz)
	}
	assert.Contains(t, authz, `qop=auth`)
	assert.Contains(t, authz, `cnonce="deadbeef"`)
}
