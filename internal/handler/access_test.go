package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/bartab/internal/agios"
	"github.com/mmeshcher/bartab/internal/ledger"
	"github.com/mmeshcher/bartab/internal/repository"
	"github.com/mmeshcher/bartab/internal/service"
)

// newLedgerHandler собирает обработчик поверх настоящего сервиса и хранилища в памяти.
// Пользователь root администрирует все бары, bar является системным пользователем.
func newLedgerHandler(t *testing.T) *Handler {
	t.Helper()

	repo := repository.NewMemoryRepository()
	l := ledger.NewService(repo)
	engine := agios.NewEngine(repo, l, ledger.NewSystemAccounts(repo, "bar"), nil)
	svc := service.NewService(repo, l, engine, nil,
		service.WithSystemUsername("bar"),
		service.WithAdmins("root"),
	)
	return newTestHandler(t, svc)
}

func registerUser(t *testing.T, h *Handler, username string) int64 {
	t.Helper()

	res := serve(t, h, http.MethodPost, "/api/users/register", credentials{Username: username, Password: username + "-pw"}, 0)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var resp loginResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	return resp.ID
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()

	defer res.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func status(t *testing.T, h *Handler, method, target string, body any, userID int64) int {
	t.Helper()

	res := serve(t, h, method, target, body, userID)
	res.Body.Close()
	return res.StatusCode
}

func TestCustomerCannotActAsStaff(t *testing.T) {
	h := newLedgerHandler(t)
	root := registerUser(t, h, "root")
	alice := registerUser(t, h, "alice")

	require.Equal(t, http.StatusForbidden, status(t, h, http.MethodPost, "/api/bars", createBarRequest{ID: "natation"}, alice))
	require.Equal(t, http.StatusCreated, status(t, h, http.MethodPost, "/api/bars", createBarRequest{ID: "natation", Name: "Natation"}, root))

	res := serve(t, h, http.MethodPost, "/api/bars/natation/accounts", nil, alice)
	require.Equal(t, http.StatusOK, res.StatusCode)
	account := decodeBody[accountResponse](t, res)

	assert.Equal(t, http.StatusForbidden, status(t, h, http.MethodPost, "/api/bars/natation/transactions",
		transactionRequest{Type: "deposit", Amount: decimal.NewFromInt(100)}, alice), "self deposit")
	assert.Equal(t, http.StatusForbidden, status(t, h, http.MethodPost, "/api/bars/natation/transactions",
		transactionRequest{Type: "refund", Amount: decimal.NewFromInt(100)}, alice), "self refund")

	res = serve(t, h, http.MethodPost, "/api/bars/natation/transactions",
		transactionRequest{Type: "withdraw", Amount: decimal.NewFromInt(10)}, alice)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	res.Body.Close()

	later := time.Now().AddDate(0, 0, 3).Format(time.DateOnly)
	accountAgios := fmt.Sprintf("/api/bars/natation/accounts/%d/agios?date=%s", account.ID, later)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusForbidden, status(t, h, http.MethodPost, accountAgios, nil, alice))
	}
	assert.Equal(t, http.StatusForbidden, status(t, h, http.MethodPost, "/api/bars/natation/agios", nil, alice))
	assert.Equal(t, http.StatusForbidden, status(t, h, http.MethodPut, "/api/bars/natation/settings", updateSettingsRequest{}, alice))
	assert.Equal(t, http.StatusForbidden, status(t, h, http.MethodDelete, fmt.Sprintf("/api/bars/natation/accounts/%d", account.ID), nil, alice))
	assert.Equal(t, http.StatusForbidden, status(t, h, http.MethodPut, fmt.Sprintf("/api/bars/natation/accounts/%d/staff", account.ID), staffRequest{Staff: true}, alice))
	assert.Equal(t, http.StatusForbidden, status(t, h, http.MethodPost, "/api/bars/natation/items", itemRequest{Name: "Coca"}, alice))

	res = serve(t, h, http.MethodGet, "/api/bars/natation/accounts/me", nil, alice)
	require.Equal(t, http.StatusOK, res.StatusCode)
	me := decodeBody[accountResponse](t, res)
	assert.True(t, me.Money.Equal(decimal.NewFromInt(-10)), "balance = %s", me.Money)

	res = serve(t, h, http.MethodPost, accountAgios, nil, root)
	require.Equal(t, http.StatusOK, res.StatusCode)
	fee := decodeBody[accrualResponse](t, res)
	assert.True(t, fee.Fee.Equal(decimal.RequireFromString("0.5")), "fee = %s", fee.Fee)

	res = serve(t, h, http.MethodGet, "/api/bars/natation/settings", nil, alice)
	require.Equal(t, http.StatusOK, res.StatusCode)
	settings := decodeBody[settingsResponse](t, res)
	assert.True(t, settings.AgiosEnabled)
}

func TestSystemUserCannotLogIn(t *testing.T) {
	h := newLedgerHandler(t)
	root := registerUser(t, h, "root")
	alice := registerUser(t, h, "alice")

	require.Equal(t, http.StatusCreated, status(t, h, http.MethodPost, "/api/bars", createBarRequest{ID: "natation"}, root))
	res := serve(t, h, http.MethodPost, "/api/bars/natation/accounts", nil, alice)
	require.Equal(t, http.StatusOK, res.StatusCode)
	account := decodeBody[accountResponse](t, res)

	require.Equal(t, http.StatusCreated, status(t, h, http.MethodPost, "/api/bars/natation/transactions",
		transactionRequest{Type: "withdraw", Amount: decimal.NewFromInt(10)}, alice))

	later := time.Now().AddDate(0, 0, 3).Format(time.DateOnly)
	res = serve(t, h, http.MethodPost, fmt.Sprintf("/api/bars/natation/accounts/%d/agios?date=%s", account.ID, later), nil, root)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	for _, password := range []string{"", "bar", "anything"} {
		res := serve(t, h, http.MethodPost, "/api/users/login", credentials{Username: "bar", Password: password}, 0)
		res.Body.Close()
		assert.NotEqual(t, http.StatusOK, res.StatusCode, "password %q", password)
		assert.Empty(t, res.Cookies())
	}
	assert.Equal(t, http.StatusForbidden, status(t, h, http.MethodPost, "/api/users/register", credentials{Username: "bar", Password: "pw"}, 0))

	// Транзакция агио создана системным пользователем; покупатель отменить её не может.
	res = serve(t, h, http.MethodGet, "/api/bars/natation/transactions/2", nil, alice)
	require.Equal(t, http.StatusOK, res.StatusCode)
	tr := decodeBody[transactionResponse](t, res)
	require.Equal(t, "agios", tr.Type)
	assert.NotEqual(t, alice, tr.Author)

	assert.Equal(t, http.StatusForbidden, status(t, h, http.MethodPost, "/api/bars/natation/transactions/2/cancel", nil, alice))
	assert.Equal(t, http.StatusOK, status(t, h, http.MethodPost, "/api/bars/natation/transactions/2/cancel", nil, root))
}

func TestLogin_RequiresPassword(t *testing.T) {
	h := newLedgerHandler(t)
	alice := registerUser(t, h, "alice")

	assert.Equal(t, http.StatusUnauthorized, status(t, h, http.MethodPost, "/api/users/login", credentials{Username: "alice", Password: "guess"}, 0))
	assert.Equal(t, http.StatusUnauthorized, status(t, h, http.MethodPost, "/api/users/login", credentials{Username: "mallory", Password: "guess"}, 0))
	assert.Equal(t, http.StatusBadRequest, status(t, h, http.MethodPost, "/api/users/login", credentials{Username: "alice"}, 0))
	assert.Equal(t, http.StatusConflict, status(t, h, http.MethodPost, "/api/users/register", credentials{Username: "alice", Password: "pw"}, 0))

	res := serve(t, h, http.MethodPost, "/api/users/login", credentials{Username: "alice", Password: "alice-pw"}, 0)
	require.Equal(t, http.StatusOK, res.StatusCode)
	resp := decodeBody[loginResponse](t, res)
	assert.Equal(t, alice, resp.ID)
}

func TestStaffMarkedByAdmin(t *testing.T) {
	h := newLedgerHandler(t)
	root := registerUser(t, h, "root")
	alice := registerUser(t, h, "alice")
	bob := registerUser(t, h, "bob")

	require.Equal(t, http.StatusCreated, status(t, h, http.MethodPost, "/api/bars", createBarRequest{ID: "natation"}, root))

	res := serve(t, h, http.MethodPost, "/api/bars/natation/accounts", nil, bob)
	require.Equal(t, http.StatusOK, res.StatusCode)
	bobAccount := decodeBody[accountResponse](t, res)

	res = serve(t, h, http.MethodPost, "/api/bars/natation/accounts", nil, alice)
	require.Equal(t, http.StatusOK, res.StatusCode)
	aliceAccount := decodeBody[accountResponse](t, res)

	deposit := transactionRequest{Type: "deposit", Amount: decimal.NewFromInt(20), Account: aliceAccount.ID}
	require.Equal(t, http.StatusForbidden, status(t, h, http.MethodPost, "/api/bars/natation/transactions", deposit, bob))

	res = serve(t, h, http.MethodPut, fmt.Sprintf("/api/bars/natation/accounts/%d/staff", bobAccount.ID), staffRequest{Staff: true}, root)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, decodeBody[accountResponse](t, res).Staff)

	res = serve(t, h, http.MethodPost, "/api/bars/natation/transactions", deposit, bob)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	tr := decodeBody[transactionResponse](t, res)
	require.Len(t, tr.AccountOperations, 1)
	assert.Equal(t, aliceAccount.ID, tr.AccountOperations[0].Account)
	assert.True(t, tr.AccountOperations[0].Balance.Equal(decimal.NewFromInt(20)))

	// Персонал одного бара не является персоналом другого.
	require.Equal(t, http.StatusCreated, status(t, h, http.MethodPost, "/api/bars", createBarRequest{ID: "avironjone"}, root))
	assert.Equal(t, http.StatusForbidden, status(t, h, http.MethodPost, "/api/bars/avironjone/agios", nil, bob))
}
