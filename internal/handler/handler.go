// Package handler содержит HTTP-обработчики API платёжного шлюза.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/mmeshcher/paygate-system/internal/gateway"
	"github.com/mmeshcher/paygate-system/internal/middleware"
	"github.com/mmeshcher/paygate-system/internal/model"
	"github.com/mmeshcher/paygate-system/internal/repository"
	"github.com/mmeshcher/paygate-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	InitiatePayment(ctx context.Context, accountID int64, orderNo string, orderType model.OrderType) (*service.InitiateResult, error)
	HandleNotify(ctx context.Context, provider string, n *gateway.Notification) service.NotifyResult
	CreateRecharge(ctx context.Context, userID, amountCents int64) (string, error)
	PaymentStatus(ctx context.Context, orderNo string, orderType model.OrderType) (bool, error)
}

// Handler реализует HTTP-обработчики API платёжного шлюза.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type initiateRequest struct {
	AccountID int64  `json:"account_id"`
	OrderNo   string `json:"order_no"`
	OrderType string `json:"order_type"`
}

type initiateResponse struct {
	Status      string `json:"status"`
	PayURL      string `json:"pay_url,omitempty"`
	QRCode      string `json:"qr_code,omitempty"`
	QRImage     string `json:"qr_image,omitempty"`
	OrderNo     string `json:"order_no"`
	OrderType   string `json:"order_type"`
	ChannelID   int64  `json:"channel_id"`
	ChannelName string `json:"channel_name"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Status: "error", Error: msg})
}

// Initiate создаёт платёж у провайдера и возвращает платёжную цель.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.AccountID <= 0 || !model.KnownOrderType(req.OrderType) {
		writeError(w, http.StatusBadRequest, "account_id and valid order_type are required")
		return
	}
	orderType := model.OrderType(req.OrderType)
	if orderType != model.OrderTypeTest && req.OrderNo == "" {
		writeError(w, http.StatusBadRequest, "order_no is required")
		return
	}

	res, err := h.service.InitiatePayment(r.Context(), req.AccountID, req.OrderNo, orderType)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAccountNotFound), errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, repository.ErrAccountDisabled),
			errors.Is(err, service.ErrUnknownProvider),
			errors.Is(err, service.ErrUnknownOrderType),
			errors.Is(err, service.ErrOrderNotPayable):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrNoPaymentTarget):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			h.logger.Error("initiate payment error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	resp := initiateResponse{
		Status:      "ok",
		PayURL:      res.PayURL,
		QRCode:      res.QRCode,
		OrderNo:     res.OrderNo,
		OrderType:   string(res.OrderType),
		ChannelID:   res.ChannelID,
		ChannelName: res.ChannelName,
	}
	if res.QRCode != "" {
		if img, err := qrImageDataURL(res.QRCode); err == nil {
			resp.QRImage = img
		} else {
			h.logger.Warn("qr image render failed", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// qrImageDataURL рендерит содержимое QR в PNG и возвращает data-URI.
func qrImageDataURL(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Notify принимает асинхронное уведомление провайдера и отвечает
// plaintext-токеном, который этот провайдер ожидает. Ответ всегда 200:
// семантика только в токене, иначе провайдер может не разобрать ответ.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	n, err := buildNotification(r)
	if err != nil {
		h.logger.Warn("notify parse error", zap.String("provider", provider), zap.Error(err))
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "fail")
		return
	}

	res := h.service.HandleNotify(r.Context(), provider, n)
	middleware.RecordSettlement(provider, res.Outcome)

	h.logger.Info("provider notify",
		zap.String("provider", provider),
		zap.String("outcome", res.Outcome),
	)

	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, res.Ack)
}

// buildNotification собирает уведомление из query-параметров, form-тела
// и сырого тела для JSON-провайдеров.
func buildNotification(r *http.Request) (*gateway.Notification, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	values := url.Values{}
	for k, vs := range r.URL.Query() {
		values[k] = vs
	}

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") && len(body) > 0 {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		for k, vs := range form {
			values[k] = vs
		}
	}

	return &gateway.Notification{Values: values, Body: body}, nil
}

type rechargeRequest struct {
	UserID int64   `json:"user_id"`
	Amount float64 `json:"amount"`
}

type rechargeResponse struct {
	OrderNo string `json:"order_no"`
}

// CreateRecharge создаёт ожидающий оплаты заказ на пополнение.
func (h *Handler) CreateRecharge(w http.ResponseWriter, r *http.Request) {
	var req rechargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	// Округление вместо усечения: 19.99 в double это 19.9899…, и
	// простое приведение теряло бы копейку.
	amountCents := int64(math.Round(req.Amount * 100))
	if req.UserID <= 0 || amountCents <= 0 {
		writeError(w, http.StatusBadRequest, "user_id and positive amount are required")
		return
	}

	orderNo, err := h.service.CreateRecharge(r.Context(), req.UserID, amountCents)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("create recharge error", zap.Error(err), zap.Int64("userID", req.UserID))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, rechargeResponse{OrderNo: orderNo})
}

type statusResponse struct {
	OrderNo string `json:"order_no"`
	Paid    bool   `json:"paid"`
}

// PaymentStatus сообщает, оплачен ли заказ.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	orderNo := r.URL.Query().Get("order_no")
	orderType := r.URL.Query().Get("order_type")

	if orderNo == "" || !model.KnownOrderType(orderType) {
		writeError(w, http.StatusBadRequest, "order_no and valid order_type are required")
		return
	}

	paid, err := h.service.PaymentStatus(r.Context(), orderNo, model.OrderType(orderType))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrUnknownOrderType):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("payment status error", zap.Error(err), zap.String("order", orderNo))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{OrderNo: orderNo, Paid: paid})
}
