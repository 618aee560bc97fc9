package notify

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/smtp"

	"bookhive/internal/member"
)

// VerificationChannel delivers a one-time verification code to a member.
// Channels are tried in a defined fallback order.
type VerificationChannel interface {
	Name() string
	SendCode(ctx context.Context, m *member.Member, code string) error
}

// EmailChannel delivers verification codes over SMTP.
type EmailChannel struct {
	Addr string // host:port of the SMTP relay
	From string
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) SendCode(ctx context.Context, m *member.Member, code string) error {
	if c.Addr == "" {
		return fmt.Errorf("email channel not configured")
	}
	msg := fmt.Sprintf("To: %s\r\nSubject: Your verification code\r\n\r\nYour code is %s\r\n", m.Email, code)
	if err := smtp.SendMail(c.Addr, nil, c.From, []string{m.Email}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// ChatChannel delivers verification codes through the chat transport.
type ChatChannel struct {
	Transport Transport
	Addrs     AddressBook
}

func (c *ChatChannel) Name() string { return "chat" }

func (c *ChatChannel) SendCode(ctx context.Context, m *member.Member, code string) error {
	addr, err := c.Addrs.ChatAddress(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("resolve chat address: %w", err)
	}
	if addr == "" {
		return ErrUnlinkedAccount
	}
	return c.Transport.Send(ctx, addr, fmt.Sprintf("Your verification code is %s", code), nil)
}

// Verifier generates verification codes and pushes them through the
// channel chain, stopping at the first success.
type Verifier struct {
	Channels []VerificationChannel
}

// SendCode returns the generated code and the name of the channel that
// delivered it.
func (v *Verifier) SendCode(ctx context.Context, m *member.Member) (code, channel string, err error) {
	code, err = generateCode()
	if err != nil {
		return "", "", fmt.Errorf("generate code: %w", err)
	}

	var lastErr error
	for _, ch := range v.Channels {
		if sendErr := ch.SendCode(ctx, m, code); sendErr != nil {
			lastErr = fmt.Errorf("%s channel: %w", ch.Name(), sendErr)
			continue
		}
		return code, ch.Name(), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no verification channels configured")
	}
	return "", "", lastErr
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
