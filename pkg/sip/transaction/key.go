package transaction

import (
	"fmt"

	"github.com/arzzra/sip_client/pkg/sip/message"
)

// Key ключ для сопоставления сообщений с транзакциями.
// Согласно RFC 3261 17.1.3 ответ принадлежит транзакции, если branch
// из top Via и метод из CSeq совпадают с запросом транзакции.
type Key struct {
	Branch string
	Method string
}

func (k Key) String() string {
	return k.Branch + "|" + k.Method
}

// KeyFromRequest строит ключ клиентской транзакции по запросу
func KeyFromRequest(req *message.Request) (Key, error) {
	branch := message.TopViaBranch(req)
	if branch == "" {
		return Key{}, fmt.Errorf("%w: no branch in top Via", ErrInvalidKey)
	}
	// ACK для не-2xx принадлежит INVITE транзакции
	method := req.Method
	if method == message.MethodACK {
		method = message.MethodINVITE
	}
	return Key{Branch: branch, Method: method}, nil
}

// KeyFromResponse строит ключ для поиска транзакции по ответу
func KeyFromResponse(resp *message.Response) (Key, error) {
	branch := message.TopViaBranch(resp)
	if branch == "" {
		return Key{}, fmt.Errorf("%w: no branch in top Via", ErrInvalidKey)
	}
	_, method, err := message.ParseCSeq(resp.GetHeader("CSeq"))
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return Key{Branch: branch, Method: method}, nil
}
