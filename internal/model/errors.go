package model

import "errors"

var (
	// ErrInvalidAccount возвращается при обращении к удалённому счёту или счёту другого бара.
	ErrInvalidAccount = errors.New("invalid account")
	// ErrStaleCancellation возвращается, если окно отмены транзакции истекло.
	ErrStaleCancellation = errors.New("transaction can no longer be canceled")
	// ErrInsufficientContext возвращается, если не хватает бара или автора операции.
	ErrInsufficientContext = errors.New("insufficient context")
	// ErrValidation возвращается при некорректной сумме или типе транзакции.
	ErrValidation = errors.New("validation failure")
	// ErrNoBarScope возвращается запросами статистики без указания бара.
	ErrNoBarScope = errors.New("query is not scoped to a bar")
	// ErrForbidden возвращается, если автор не вправе изменять счёт.
	ErrForbidden = errors.New("forbidden")
	// ErrAlreadyCanceled возвращается при повторной отмене транзакции.
	ErrAlreadyCanceled = errors.New("transaction already canceled")
	// ErrNotCancellable возвращается при попытке отменить транзакцию отмены.
	ErrNotCancellable = errors.New("transaction is not cancellable")
	// ErrBalanceChanged возвращается, если баланс счёта изменился после расчёта операции.
	ErrBalanceChanged = errors.New("account balance changed")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
