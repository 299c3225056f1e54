// Package handler содержит HTTP-обработчики API бара.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/bartab/internal/agios"
	"github.com/mmeshcher/bartab/internal/ledger"
	"github.com/mmeshcher/bartab/internal/middleware"
	"github.com/mmeshcher/bartab/internal/model"
	"github.com/mmeshcher/bartab/internal/repository"
	"github.com/mmeshcher/bartab/internal/service"
	"github.com/mmeshcher/bartab/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateBar(ctx context.Context, id, name string) error
	GetBar(ctx context.Context, id string) (*service.BarInfo, error)
	GetBarSettings(ctx context.Context, barID string) (*model.BarSettings, error)
	UpdateBarSettings(ctx context.Context, settings model.BarSettings) error
	RegisterUser(ctx context.Context, username, password string) (*model.User, error)
	AuthenticateUser(ctx context.Context, username, password string) (*model.User, error)
	ResolveActor(ctx context.Context, barID string, userID int64) (*ledger.Actor, error)
	OpenAccount(ctx context.Context, barID string, actor *ledger.Actor, username string) (*model.Account, error)
	SetAccountStaff(ctx context.Context, barID string, id int64, staff bool) (*model.Account, error)
	GetMyAccount(ctx context.Context, barID string, userID int64) (*model.Account, error)
	GetAccount(ctx context.Context, barID string, id int64) (*model.Account, error)
	DeleteAccount(ctx context.Context, barID string, id int64) error
	CreateItem(ctx context.Context, item model.Item) (*model.Item, error)
	SubmitTransaction(ctx context.Context, barID string, actor *ledger.Actor, req ledger.Request) (*model.Transaction, error)
	CancelTransaction(ctx context.Context, barID string, id int64, actor *ledger.Actor) (*model.Transaction, error)
	GetTransaction(ctx context.Context, barID string, id int64) (*model.Transaction, error)
	RunAccrual(ctx context.Context, barID string, accountID int64, date time.Time) (decimal.Decimal, error)
	RunBarAccrual(ctx context.Context, barID string, date time.Time) (agios.Summary, error)
	AccountRanking(ctx context.Context, barID string, from, to time.Time, types []model.TransactionType) ([]model.StatsRow, error)
	ItemRanking(ctx context.Context, barID string, from, to time.Time) ([]model.StatsRow, error)
}

// Handler реализует HTTP-обработчики API бара.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError переводит доменную ошибку в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrInsufficientContext),
		errors.Is(err, model.ErrNoBarScope):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, model.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrInvalidAccount):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrStaleCancellation),
		errors.Is(err, model.ErrAlreadyCanceled),
		errors.Is(err, model.ErrNotCancellable),
		errors.Is(err, repository.ErrBarExists),
		errors.Is(err, repository.ErrUserExists):
		status = http.StatusConflict
	case errors.Is(err, repository.ErrBarNotFound),
		errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrItemNotFound),
		errors.Is(err, repository.ErrTransactionNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err), zap.String("uri", r.RequestURI))
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

type actorKey struct{}

// withActor определяет права пользователя из токена в баре текущего маршрута.
func (h *Handler) withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.GetActorIDFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		actor, err := h.service.ResolveActor(r.Context(), chi.URLParam(r, "bar"), id)
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// staffOnly пропускает только персонал бара и администраторов.
func (h *Handler) staffOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if !actor.Staff && !actor.System {
			http.Error(w, "bar staff only", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorFromRequest(r *http.Request) (*ledger.Actor, bool) {
	actor, ok := r.Context().Value(actorKey{}).(*ledger.Actor)
	return actor, ok && actor != nil
}

func int64Param(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

func (h *Handler) authenticated(w http.ResponseWriter, u *model.User) {
	h.authMiddleware.SetAuthCookie(w, u.ID)
	h.writeJSON(w, http.StatusOK, loginResponse{
		ID:       u.ID,
		Username: u.Username,
		Token:    h.authMiddleware.Token(u.ID),
	})
}

// Register регистрирует пользователя и сразу выдаёт ему токен.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.RegisterUser(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.authenticated(w, u)
}

// Login проверяет логин и пароль и выдаёт токен.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.authenticated(w, u)
}

type createBarRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateBar создаёт бар.
func (h *Handler) CreateBar(w http.ResponseWriter, r *http.Request) {
	var req createBarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.CreateBar(r.Context(), req.ID, req.Name); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// GetBar возвращает бар и число его счетов.
func (h *Handler) GetBar(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.GetBar(r.Context(), chi.URLParam(r, "bar"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

type settingsResponse struct {
	Bar                        string          `json:"bar"`
	MoneyWarningThreshold      decimal.Decimal `json:"money_warning_threshold"`
	TransactionCancelThreshold float64         `json:"transaction_cancel_threshold"`
	DefaultTax                 decimal.Decimal `json:"default_tax"`
	AgiosEnabled               bool            `json:"agios_enabled"`
	AgiosThreshold             float64         `json:"agios_threshold"`
	AgiosFactor                decimal.Decimal `json:"agios_factor"`
	LastModified               string          `json:"last_modified"`
}

// GetBarSettings возвращает настройки бара.
func (h *Handler) GetBarSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.GetBarSettings(r.Context(), chi.URLParam(r, "bar"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, settingsResponse{
		Bar:                        s.BarID,
		MoneyWarningThreshold:      s.MoneyWarningThreshold,
		TransactionCancelThreshold: s.TransactionCancelThreshold,
		DefaultTax:                 s.DefaultTax,
		AgiosEnabled:               s.AgiosEnabled,
		AgiosThreshold:             s.AgiosThreshold,
		AgiosFactor:                s.AgiosFactor,
		LastModified:               s.LastModified.Format(time.RFC3339),
	})
}

type updateSettingsRequest struct {
	MoneyWarningThreshold      decimal.Decimal `json:"money_warning_threshold"`
	TransactionCancelThreshold float64         `json:"transaction_cancel_threshold"`
	DefaultTax                 decimal.Decimal `json:"default_tax"`
	AgiosEnabled               bool            `json:"agios_enabled"`
	AgiosThreshold             float64         `json:"agios_threshold"`
	AgiosFactor                decimal.Decimal `json:"agios_factor"`
}

// UpdateBarSettings заменяет настройки бара.
func (h *Handler) UpdateBarSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.UpdateBarSettings(r.Context(), model.BarSettings{
		BarID:                      chi.URLParam(r, "bar"),
		MoneyWarningThreshold:      req.MoneyWarningThreshold,
		TransactionCancelThreshold: req.TransactionCancelThreshold,
		DefaultTax:                 req.DefaultTax,
		AgiosEnabled:               req.AgiosEnabled,
		AgiosThreshold:             req.AgiosThreshold,
		AgiosFactor:                req.AgiosFactor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type openAccountRequest struct {
	Username string `json:"username"`
}

type accountResponse struct {
	ID             int64           `json:"id"`
	Bar            string          `json:"bar"`
	Owner          int64           `json:"owner"`
	Money          decimal.Decimal `json:"money"`
	OverdrawnSince *string         `json:"overdrawn_since"`
	Deleted        bool            `json:"deleted"`
	Staff          bool            `json:"staff"`
	LastModified   string          `json:"last_modified"`
}

func newAccountResponse(a *model.Account) accountResponse {
	resp := accountResponse{
		ID:           a.ID,
		Bar:          a.BarID,
		Owner:        a.OwnerID,
		Money:        a.Money,
		Deleted:      a.Deleted,
		Staff:        a.Staff,
		LastModified: a.LastModified.Format(time.RFC3339),
	}
	if a.OverdrawnSince != nil {
		d := a.OverdrawnSince.Format(time.DateOnly)
		resp.OverdrawnSince = &d
	}
	return resp
}

// OpenAccount создаёт счёт пользователя в баре при первой связи.
// Без тела запроса открывается счёт текущего пользователя.
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req openAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	a, err := h.service.OpenAccount(r.Context(), chi.URLParam(r, "bar"), actor, req.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newAccountResponse(a))
}

// GetMyAccount возвращает счёт текущего пользователя в баре.
func (h *Handler) GetMyAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	a, err := h.service.GetMyAccount(r.Context(), chi.URLParam(r, "bar"), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newAccountResponse(a))
}

// GetAccount возвращает счёт бара.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	a, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "bar"), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newAccountResponse(a))
}

// DeleteAccount помечает счёт удалённым.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteAccount(r.Context(), chi.URLParam(r, "bar"), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type staffRequest struct {
	Staff bool `json:"staff"`
}

// SetAccountStaff отмечает владельца счёта персоналом бара.
func (h *Handler) SetAccountStaff(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req staffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	a, err := h.service.SetAccountStaff(r.Context(), chi.URLParam(r, "bar"), id, req.Staff)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newAccountResponse(a))
}

type itemRequest struct {
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Qty        decimal.Decimal `json:"qty"`
	UnitFactor decimal.Decimal `json:"unit_factor"`
}

type itemResponse struct {
	ID         int64           `json:"id"`
	Bar        string          `json:"bar"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Qty        decimal.Decimal `json:"qty"`
	UnitFactor decimal.Decimal `json:"unit_factor"`
}

// CreateItem добавляет товар в бар.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	it, err := h.service.CreateItem(r.Context(), model.Item{
		BarID:      chi.URLParam(r, "bar"),
		Name:       req.Name,
		Price:      req.Price,
		Qty:        req.Qty,
		UnitFactor: req.UnitFactor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, itemResponse{
		ID:         it.ID,
		Bar:        it.BarID,
		Name:       it.Name,
		Price:      it.Price,
		Qty:        it.Qty,
		UnitFactor: it.UnitFactor,
	})
}

type transactionRequest struct {
	Type    string          `json:"type"`
	Amount  decimal.Decimal `json:"amount"`
	Account int64           `json:"account,omitempty"`
	Target  int64           `json:"target,omitempty"`
	Item    int64           `json:"item,omitempty"`
	Qty     decimal.Decimal `json:"qty"`
	Motive  string          `json:"motive,omitempty"`
}

type accountOperationResponse struct {
	Account int64           `json:"account"`
	Delta   decimal.Decimal `json:"delta"`
	Balance decimal.Decimal `json:"balance"`
}

type itemOperationResponse struct {
	Item       int64           `json:"item"`
	Delta      decimal.Decimal `json:"delta"`
	Normalized decimal.Decimal `json:"normalized"`
}

type transactionResponse struct {
	ID                int64                      `json:"id"`
	Bar               string                     `json:"bar"`
	Type              string                     `json:"type"`
	Author            int64                      `json:"author"`
	Timestamp         string                     `json:"timestamp"`
	MoneyFlow         decimal.Decimal            `json:"moneyflow"`
	Motive            string                     `json:"motive,omitempty"`
	Canceled          bool                       `json:"canceled"`
	ReversalOf        *int64                     `json:"reversal_of,omitempty"`
	AccountOperations []accountOperationResponse `json:"account_operations"`
	ItemOperations    []itemOperationResponse    `json:"item_operations"`
}

func newTransactionResponse(t *model.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:                t.ID,
		Bar:               t.BarID,
		Type:              string(t.Type),
		Author:            t.AuthorID,
		Timestamp:         t.Timestamp.Format(time.RFC3339),
		MoneyFlow:         t.MoneyFlow,
		Motive:            t.Motive,
		Canceled:          t.Canceled,
		ReversalOf:        t.ReversalOf,
		AccountOperations: make([]accountOperationResponse, 0, len(t.AccountOperations)),
		ItemOperations:    make([]itemOperationResponse, 0, len(t.ItemOperations)),
	}
	for _, op := range t.AccountOperations {
		resp.AccountOperations = append(resp.AccountOperations, accountOperationResponse{
			Account: op.AccountID,
			Delta:   op.Delta,
			Balance: op.Balance,
		})
	}
	for _, op := range t.ItemOperations {
		resp.ItemOperations = append(resp.ItemOperations, itemOperationResponse{
			Item:       op.ItemID,
			Delta:      op.Delta,
			Normalized: op.Normalized,
		})
	}
	return resp
}

// SubmitTransaction создаёт транзакцию от имени текущего пользователя.
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	typ, err := validation.TransactionType(req.Type)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	t, err := h.service.SubmitTransaction(r.Context(), chi.URLParam(r, "bar"), actor, ledger.Request{
		Type:            typ,
		Amount:          req.Amount,
		AccountID:       req.Account,
		TargetAccountID: req.Target,
		ItemID:          req.Item,
		Qty:             req.Qty,
		Motive:          req.Motive,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, newTransactionResponse(t))
}

// GetTransaction возвращает транзакцию бара.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.GetTransaction(r.Context(), chi.URLParam(r, "bar"), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newTransactionResponse(t))
}

// CancelTransaction отменяет транзакцию и возвращает обратную ей транзакцию.
func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, ok := int64Param(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.CancelTransaction(r.Context(), chi.URLParam(r, "bar"), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newTransactionResponse(t))
}

// evaluationDate разбирает параметр date (YYYY-MM-DD); по умолчанию текущий момент.
func evaluationDate(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("date")
	if v == "" {
		return time.Now(), nil
	}
	return time.Parse(time.DateOnly, v)
}

type accrualResponse struct {
	Account int64           `json:"account"`
	Fee     decimal.Decimal `json:"fee"`
}

// RunAccrual начисляет агио одному счёту.
func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	date, err := evaluationDate(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	fee, err := h.service.RunAccrual(r.Context(), chi.URLParam(r, "bar"), id, date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, accrualResponse{Account: id, Fee: fee})
}

// RunBarAccrual начисляет агио всем счетам бара.
func (h *Handler) RunBarAccrual(w http.ResponseWriter, r *http.Request) {
	date, err := evaluationDate(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sum, err := h.service.RunBarAccrual(r.Context(), chi.URLParam(r, "bar"), date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sum)
}

// rankingParams разбирает bar, date_start, date_end и повторяющийся type из строки запроса.
func rankingParams(r *http.Request) (string, time.Time, time.Time, []model.TransactionType, error) {
	q := r.URL.Query()

	var from, to time.Time
	var err error
	if v := q.Get("date_start"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return "", from, to, nil, err
		}
	}
	if v := q.Get("date_end"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return "", from, to, nil, err
		}
	}

	var types []model.TransactionType
	for _, v := range q["type"] {
		t, err := validation.TransactionType(v)
		if err != nil {
			return "", from, to, nil, err
		}
		types = append(types, t)
	}

	return q.Get("bar"), from, to, types, nil
}

// AccountRanking возвращает рейтинг счетов бара.
func (h *Handler) AccountRanking(w http.ResponseWriter, r *http.Request) {
	bar, from, to, types, err := rankingParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := h.service.AccountRanking(r.Context(), bar, from, to, types)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rows)
}

// ItemRanking возвращает рейтинг товаров бара.
func (h *Handler) ItemRanking(w http.ResponseWriter, r *http.Request) {
	bar, from, to, _, err := rankingParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := h.service.ItemRanking(r.Context(), bar, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rows)
}
