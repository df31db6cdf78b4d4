package transaction

import "errors"

var (
	// ErrTransactionExists транзакция с таким ключом уже существует
	ErrTransactionExists = errors.New("transaction already exists")

	// ErrTransactionNotFound транзакция не найдена
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidKey сообщение не содержит данных для ключа транзакции
	ErrInvalidKey = errors.New("invalid transaction key")

	// ErrInvalidState операция недопустима в текущем состоянии
	ErrInvalidState = errors.New("invalid transaction state")

	// ErrTimeout транзакция завершилась по таймауту (Timer B или F)
	ErrTimeout = errors.New("transaction timeout")

	// ErrTransportFailure транспорт не смог доставить сообщение
	ErrTransportFailure = errors.New("transport failure")

	// ErrManagerClosed менеджер транзакций остановлен
	ErrManagerClosed = errors.New("transaction manager closed")
)
