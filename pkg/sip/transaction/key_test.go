package transaction

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/sip_client/pkg/sip/message"
)

func TestKeyFromRequest(t *testing.T) {
	invite := buildTestInvite(t, "z9hG4bKkey1")
	key, err := KeyFromRequest(invite)
	require.NoError(t, err)
	assert.Equal(t, "z9hG4bKkey1", key.Branch)
	assert.Equal(t, message.MethodINVITE, key.Method)
}

func TestKeyFromResponse_MatchesRequest(t *testing.T) {
	invite := buildTestInvite(t, "z9hG4bKkey2")
	reqKey, err := KeyFromRequest(invite)
	require.NoError(t, err)

	respKey, err := KeyFromResponse(responseTo(invite, 180, "tag"))
	require.NoError(t, err)
	assert.Equal(t, reqKey, respKey)
}

func TestKeyFromRequest_NoBranch(t *testing.T) {
	req := &message.Request{
		Method:     message.MethodINVITE,
		RequestURI: message.MustParseURI("sip:bob@biloxi.com"),
		Headers:    message.NewHeaders(),
	}
	req.SetHeader("Via", "SIP/2.0/UDP atlanta.com")

	_, err := KeyFromRequest(req)
	assert.True(t, errors.Is(err, ErrInvalidKey))
}

func TestDefaultTimers(t *testing.T) {
	timers := DefaultTimers()
	assert.Equal(t, 500*time.Millisecond, timers.T1)
	assert.Equal(t, 4*time.Second, timers.T2)
	assert.Equal(t, 64*timers.T1, timers.TimerB)
	assert.Equal(t, 64*timers.T1, timers.TimerF)
	assert.Equal(t, 32*time.Second, timers.TimerD)
}

func TestAdjustForReliableTransport(t *testing.T) {
	timers := DefaultTimers().AdjustForReliableTransport()
	assert.Zero(t, timers.TimerA)
	assert.Zero(t, timers.TimerE)
	assert.Zero(t, timers.TimerD)
	assert.Zero(t, timers.TimerK)
	// Таймауты остаются
	assert.NotZero(t, timers.TimerB)
	assert.NotZero(t, timers.TimerF)
}

func TestNextRetransmitInterval(t *testing.T) {
	t2 := 4 * time.Second
	assert.Equal(t, time.Second, NextRetransmitInterval(500*time.Millisecond, t2))
	assert.Equal(t, 2*time.Second, NextRetransmitInterval(time.Second, t2))
	assert.Equal(t, t2, NextRetransmitInterval(2*time.Second, t2))
	assert.Equal(t, t2, NextRetransmitInterval(t2, t2))
}

func TestDestinationFromURI(t *testing.T) {
	assert.Equal(t, "biloxi.com:5060", DestinationFromURI(message.MustParseURI("sip:bob@biloxi.com")))
	assert.Equal(t, "biloxi.com:5080", DestinationFromURI(message.MustParseURI("sip:bob@biloxi.com:5080")))
	assert.Equal(t, "biloxi.com:5061", DestinationFromURI(message.MustParseURI("sips:bob@biloxi.com")))
}
