package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyteclub/syncshell/identity"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	host, err := identity.Generate()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	tok, err := Issue(host, "grp-1", "member-peer", nil, now, time.Hour)
	require.NoError(t, err)

	verified, err := Verify(tok.Raw, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "grp-1", verified.GroupID)
	assert.Equal(t, "member-peer", verified.MemberPeerID)
	assert.Equal(t, host.PeerID(), verified.IssuerPeerID)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	host, err := identity.Generate()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	tok, err := Issue(host, "grp-1", "member-peer", nil, now, time.Minute)
	require.NoError(t, err)

	_, err = Verify(tok.Raw, now.Add(2*time.Minute))
	assert.Error(t, err)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	host, err := identity.Generate()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	tok, err := Issue(host, "grp-1", "member-peer", nil, now, time.Hour)
	require.NoError(t, err)

	tampered := tok.Raw[:len(tok.Raw)-4] + "abcd"
	_, err = Verify(tampered, now.Add(time.Minute))
	assert.Error(t, err)
}

func TestMaybeReissueOnlyNearExpiry(t *testing.T) {
	host, err := identity.Generate()
	require.NoError(t, err)
	r := NewResponder(host, "grp-1", nil, nil)

	now := time.Unix(1_700_000_000, 0)
	tok, err := Issue(host, "grp-1", "member-peer", []string{"apply"}, now, MemberTokenTTL)
	require.NoError(t, err)

	fresh, err := r.MaybeReissue(tok, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, fresh, "a token nowhere near expiry must not be replaced")

	fresh, err = r.MaybeReissue(tok, tok.ExpiresAt.Add(-ReissueWindow+time.Hour))
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, "member-peer", fresh.MemberPeerID)
	assert.Equal(t, tok.Capabilities, fresh.Capabilities)
	assert.True(t, fresh.ExpiresAt.After(tok.ExpiresAt))
}

func TestNonceConsumeIsSingleUse(t *testing.T) {
	m := NewNonceManager()
	now := time.Unix(1_700_000_000, 0)

	n, err := m.Issue(now)
	require.NoError(t, err)

	require.NoError(t, m.Consume(n, now.Add(time.Second)))
	assert.Error(t, m.Consume(n, now.Add(2*time.Second)), "second consume of the same nonce must fail")
}

func TestNonceExpiresAfterTTL(t *testing.T) {
	m := NewNonceManager()
	now := time.Unix(1_700_000_000, 0)

	n, err := m.Issue(now)
	require.NoError(t, err)

	err = m.Consume(n, now.Add(ChallengeTTL+time.Second))
	assert.Error(t, err)
}
