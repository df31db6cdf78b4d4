// Package account содержит неизменяемый дескриптор SIP аккаунта.
//
// Дескриптор передается движку при создании и далее не меняется:
// ядро протокола никогда само не читает окружение или файлы.
package account

import (
	"fmt"
)

// Account описывает учетную запись SIP
type Account struct {
	Username    string
	Password    string
	Domain      string
	Port        int
	DisplayName string
	Realm       string
}

// New создает аккаунт с валидацией обязательных полей
func New(username, password, domain string) (*Account, error) {
	acc := &Account{
		Username: username,
		Password: password,
		Domain:   domain,
		Port:     5060,
	}

	if err := acc.Validate(); err != nil {
		return nil, err
	}

	return acc, nil
}

// Validate проверяет корректность конфигурации аккаунта
func (a *Account) Validate() error {
	if a.Username == "" {
		return fmt.Errorf("username is required")
	}
	if a.Password == "" {
		return fmt.Errorf("password is required")
	}
	if a.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", a.Port)
	}
	return nil
}

// URI возвращает SIP URI аккаунта
func (a *Account) URI() string {
	return fmt.Sprintf("sip:%s@%s", a.Username, a.Domain)
}

// ServerAddr возвращает адрес регистратора host:port
func (a *Account) ServerAddr() string {
	return fmt.Sprintf("%s:%d", a.Domain, a.Port)
}
