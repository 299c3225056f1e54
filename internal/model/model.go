// Package model содержит доменные сущности бара: счета, транзакции и настройки.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar описывает бар, в рамках которого ведутся счета и транзакции.
type Bar struct {
	ID   string
	Name string
}

// BarSettings содержит настройки бара, в том числе политику начисления агио.
type BarSettings struct {
	BarID string

	MoneyWarningThreshold decimal.Decimal
	// TransactionCancelThreshold задаётся в часах от создания транзакции.
	TransactionCancelThreshold float64
	DefaultTax                 decimal.Decimal

	AgiosEnabled bool
	// AgiosThreshold задаётся в днях.
	AgiosThreshold float64
	AgiosFactor    decimal.Decimal

	LastModified time.Time
}

// DefaultBarSettings возвращает настройки, создаваемые вместе с новым баром.
func DefaultBarSettings(barID string) BarSettings {
	return BarSettings{
		BarID:                      barID,
		MoneyWarningThreshold:      decimal.NewFromInt(15),
		TransactionCancelThreshold: 48,
		DefaultTax:                 decimal.RequireFromString("0.2"),
		AgiosEnabled:               true,
		AgiosThreshold:             2,
		AgiosFactor:                decimal.RequireFromString("0.05"),
	}
}

// User представляет пользователя, владеющего счетами в барах.
type User struct {
	ID        int64
	Username  string
	FullName  string
	CreatedAt time.Time
	// PasswordHash пуст у пользователей, которые не могут входить, например у системного.
	PasswordHash []byte
}

// Account описывает счёт пользователя в конкретном баре.
//
// OverdrawnSince не равен nil тогда и только тогда, когда баланс непрерывно
// отрицателен с указанной даты.
type Account struct {
	ID             int64
	BarID          string
	OwnerID        int64
	Money          decimal.Decimal
	OverdrawnSince *time.Time
	Deleted        bool
	// Staff отмечает персонал бара.
	Staff        bool
	LastModified time.Time
}

// Overdrawn сообщает, отрицателен ли баланс счёта.
func (a *Account) Overdrawn() bool {
	return a.Money.IsNegative()
}

// Item описывает товар на складе бара.
type Item struct {
	ID         int64
	BarID      string
	Name       string
	Price      decimal.Decimal
	Qty        decimal.Decimal
	UnitFactor decimal.Decimal
	Deleted    bool
}

// TransactionType перечисляет виды денежных операций.
type TransactionType string

const (
	TransactionBuy      TransactionType = "buy"
	TransactionGive     TransactionType = "give"
	TransactionDeposit  TransactionType = "deposit"
	TransactionWithdraw TransactionType = "withdraw"
	TransactionRefund   TransactionType = "refund"
	TransactionPunish   TransactionType = "punish"
	TransactionAppro    TransactionType = "appro"
	TransactionAgios    TransactionType = "agios"
	TransactionCancel   TransactionType = "cancel"
)

// Valid сообщает, известен ли тип транзакции.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionBuy, TransactionGive, TransactionDeposit, TransactionWithdraw,
		TransactionRefund, TransactionPunish, TransactionAppro, TransactionAgios, TransactionCancel:
		return true
	}
	return false
}

// Transaction описывает зафиксированную денежную операцию.
type Transaction struct {
	ID        int64
	BarID     string
	Type      TransactionType
	AuthorID  int64
	Timestamp time.Time
	MoneyFlow decimal.Decimal
	Motive    string
	Canceled  bool
	// ReversalOf указывает на отменённую транзакцию для транзакций типа cancel.
	ReversalOf *int64

	AccountOperations []AccountOperation
	ItemOperations    []ItemOperation
}

// AccountOperation описывает изменение баланса одного счёта в рамках транзакции.
type AccountOperation struct {
	AccountID int64
	Delta     decimal.Decimal
	// Balance содержит баланс счёта после применения операции.
	Balance decimal.Decimal
	// Expected, если задан, должен совпасть с балансом счёта под блокировкой перед применением.
	Expected *decimal.Decimal
}

// ItemOperation описывает изменение остатка товара в рамках транзакции.
type ItemOperation struct {
	ItemID int64
	Delta  decimal.Decimal
	// Normalized равен Delta, умноженному на коэффициент единицы товара.
	Normalized decimal.Decimal
}

// GroupBy задаёт ключ группировки агрегатов по журналу транзакций.
type GroupBy string

const (
	GroupByAccount GroupBy = "account"
	GroupByItem    GroupBy = "item"
)

// StatsQuery описывает запрос агрегатов по журналу транзакций.
type StatsQuery struct {
	BarID   string
	From    time.Time
	To      time.Time
	Types   []TransactionType
	GroupBy GroupBy
}

// StatsRow содержит сумму изменений для одного ключа группировки.
type StatsRow struct {
	Key   int64           `json:"key"`
	Total decimal.Decimal `json:"total"`
}
