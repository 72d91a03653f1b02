package engine

import "errors"

var (
	ErrNotFound         = errors.New("позиция не найдена")
	ErrAlreadyExists    = errors.New("позиция уже отслеживается")
	ErrInvalidPosition  = errors.New("некорректная позиция")
	ErrOversell         = errors.New("объём продажи больше остатка")
	ErrPriceUnavailable = errors.New("цена недоступна")
	ErrNoLiquidity      = errors.New("нет ликвидности в пуле")
	ErrScanInProgress   = errors.New("проверка уже выполняется")
	ErrTransient        = errors.New("временная ошибка")
	ErrReverted         = errors.New("транзакция отменена в сети")
	ErrUnsellable       = errors.New("токен невозможно продать")
	ErrNothingHeld      = errors.New("на контракте нет токенов")
	ErrSnipeDisabled    = errors.New("снайпинг выключен")
	ErrGated            = errors.New("покупка отклонена фильтром")
)
