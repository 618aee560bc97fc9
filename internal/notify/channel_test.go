package notify

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookhive/internal/member"
)

type stubChannel struct {
	name string
	err  error
	sent []string
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) SendCode(ctx context.Context, m *member.Member, code string) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, code)
	return nil
}

func TestVerifierFallsBackInOrder(t *testing.T) {
	email := &stubChannel{name: "email", err: errors.New("relay down")}
	chat := &stubChannel{name: "chat"}
	v := &Verifier{Channels: []VerificationChannel{email, chat}}

	m := &member.Member{ID: uuid.New(), Email: "reader@example.com"}
	code, channel, err := v.SendCode(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, "chat", channel)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)
	require.Len(t, chat.sent, 1)
	assert.Equal(t, code, chat.sent[0])
}

func TestVerifierPrefersFirstChannel(t *testing.T) {
	email := &stubChannel{name: "email"}
	chat := &stubChannel{name: "chat"}
	v := &Verifier{Channels: []VerificationChannel{email, chat}}

	_, channel, err := v.SendCode(context.Background(), &member.Member{ID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, "email", channel)
	assert.Empty(t, chat.sent)
}

func TestVerifierAllChannelsFail(t *testing.T) {
	email := &stubChannel{name: "email", err: errors.New("relay down")}
	chat := &stubChannel{name: "chat", err: ErrUnlinkedAccount}
	v := &Verifier{Channels: []VerificationChannel{email, chat}}

	_, _, err := v.SendCode(context.Background(), &member.Member{ID: uuid.New()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnlinkedAccount)
}

func TestVerifierNoChannels(t *testing.T) {
	v := &Verifier{}
	_, _, err := v.SendCode(context.Background(), &member.Member{ID: uuid.New()})
	require.Error(t, err)
}
