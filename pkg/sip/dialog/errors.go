package dialog

import "errors"

var (
	// ErrDialogNotFound диалог не найден
	ErrDialogNotFound = errors.New("dialog not found")

	// ErrInvalidState операция недопустима в текущем состоянии вызова
	ErrInvalidState = errors.New("invalid dialog state")

	// ErrDialogExists диалог с таким Call-ID уже существует
	ErrDialogExists = errors.New("dialog already exists")

	// ErrCallRejected вызов отклонен удаленной стороной
	ErrCallRejected = errors.New("call rejected")

	// ErrManagerClosed менеджер диалогов остановлен
	ErrManagerClosed = errors.New("dialog manager closed")
)
