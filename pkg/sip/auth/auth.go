// Package auth реализует digest аутентификацию клиента (RFC 3261 22,
// RFC 2617) поверх icholy/digest.
package auth

import (
	"errors"
	"fmt"

	"github.com/icholy/digest"

	"github.com/arzzra/sip_client/pkg/sip/message"
)

var (
	// ErrNoChallenge ответ не содержит challenge заголовка
	ErrNoChallenge = errors.New("no authentication challenge in response")

	// ErrInvalidChallenge challenge не удалось разобрать
	ErrInvalidChallenge = errors.New("invalid authentication challenge")

	// ErrAuthFailed сервер отверг запрос с уже вычисленными
	// credentials: пароль неверен, повторять бессмысленно
	ErrAuthFailed = errors.New("authentication failed")
)

// Credentials учетные данные для digest аутентификации
type Credentials struct {
	Username string
	Password string
}

// Challenge описывает разобранный challenge и заголовок, в который
// нужно положить ответ
type Challenge struct {
	chal *digest.Challenge

	// AuthHeader - Authorization для 401, Proxy-Authorization для 407
	AuthHeader string

	// Realm из challenge
	Realm string
}

// ChallengeFrom извлекает challenge из 401/407 ответа
func ChallengeFrom(resp *message.Response) (*Challenge, error) {
	var challengeHeader, authHeader string

	switch resp.StatusCode {
	case message.StatusUnauthorized:
		challengeHeader, authHeader = "WWW-Authenticate", "Authorization"
	case message.StatusProxyAuthRequired:
		challengeHeader, authHeader = "Proxy-Authenticate", "Proxy-Authorization"
	default:
		return nil, fmt.Errorf("%w: status %d", ErrNoChallenge, resp.StatusCode)
	}

	value := resp.GetHeader(challengeHeader)
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrNoChallenge, challengeHeader)
	}

	chal, err := digest.ParseChallenge(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChallenge, err)
	}

	return &Challenge{
		chal:       chal,
		AuthHeader: authHeader,
		Realm:      chal.Realm,
	}, nil
}

// Authenticator вычисляет digest credentials для повторных запросов
type Authenticator struct {
	creds Credentials

	// фиксированный cnonce для детерминированных тестов,
	// пустое значение означает случайный
	cnonce string
}

// New создает аутентификатор
func New(creds Credentials) *Authenticator {
	return &Authenticator{creds: creds}
}

// Authorize вычисляет credentials по challenge из ответа и
// проставляет соответствующий заголовок в запрос. Запрос должен быть
// уже подготовлен к повтору: новый branch, увеличенный CSeq.
func (a *Authenticator) Authorize(req *message.Request, resp *message.Response) error {
	challenge, err := ChallengeFrom(resp)
	if err != nil {
		return err
	}

	// Повторный challenge с stale=false на запрос, который уже нес
	// credentials, означает неверный пароль
	if req.GetHeader(challenge.AuthHeader) != "" && !challenge.chal.Stale {
		return fmt.Errorf("%w: realm %q", ErrAuthFailed, challenge.Realm)
	}

	opts := digest.Options{
		Method:   req.Method,
		URI:      req.RequestURI.String(),
		Username: a.creds.Username,
		Password: a.creds.Password,
	}
	if a.cnonce != "" {
		opts.Cnonce = a.cnonce
		opts.Count = 1
	}

	cred, err := digest.Digest(challenge.chal, opts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChallenge, err)
	}

	req.SetHeader(challenge.AuthHeader, cred.String())
	return nil
}

// IsChallenge сообщает, требует ли ответ аутентификации
func IsChallenge(resp *message.Response) bool {
	return resp.StatusCode == message.StatusUnauthorized ||
		resp.StatusCode == message.StatusProxyAuthRequired
}
