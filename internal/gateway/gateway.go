// Package gateway содержит адаптеры платёжных провайдеров и их реестр.
//
// Каждый адаптер строит провайдер-специфичный запрос, подписывает его и
// сводит разнородный ответ провайдера к каноническому результату
// {ссылка на оплату | содержимое QR}. Входящие уведомления адаптер
// нормализует в пару (вердикт, составная ссылка расчёта).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mmeshcher/paygate-system/internal/model"
	"github.com/mmeshcher/paygate-system/internal/sign"
)

// errInvalidSignature возвращается при неверной подписи уведомления.
var errInvalidSignature = errors.New("invalid callback signature")

// PayRequest содержит данные для создания платежа у провайдера.
type PayRequest struct {
	OrderNo     string
	OrderType   model.OrderType
	AmountCents int64
	Subject     string
	NotifyURL   string
	ReturnURL   string
}

// Reference возвращает составную ссылку расчёта для передачи провайдеру.
func (r PayRequest) Reference() string {
	return model.BuildReference(r.OrderNo, r.OrderType)
}

// PayResult содержит платёжную цель, извлечённую из ответа провайдера.
// Заполнено хотя бы одно из полей.
type PayResult struct {
	PayURL string
	QRCode string
}

// Notification содержит входящее уведомление провайдера: объединённые
// query/form параметры и сырое тело для JSON-провайдеров.
type Notification struct {
	Values url.Values
	Body   []byte
}

// Verdict — нормализованный результат разбора уведомления.
type Verdict struct {
	Success   bool
	OrderNo   string
	OrderType model.OrderType
}

// Adapter описывает единый контракт провайдера: создание платежа и
// нормализация его уведомления.
type Adapter interface {
	// Key возвращает стабильный ключ провайдера для реестра и маршрутов.
	Key() string
	// Pay создаёт платёж. Возвращает nil без ошибки, если провайдер не
	// выдал платёжную цель.
	Pay(ctx context.Context, acc *model.PaymentAccount, req PayRequest) (*PayResult, error)
	// HandleNotify разбирает уведомление и возвращает вердикт.
	HandleNotify(ctx context.Context, acc *model.PaymentAccount, n *Notification) (*Verdict, error)
	// SuccessAck возвращает токен подтверждения, ожидаемый провайдером.
	SuccessAck(n *Notification) string
	// FailureAck возвращает токен отказа.
	FailureAck() string
}

// Registry хранит адаптеры по стабильному ключу провайдера.
// Новый провайдер добавляется регистрацией реализации, не ветвлением.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry создаёт реестр из переданных адаптеров.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Key()] = a
	}
	return r
}

// Get возвращает адаптер по ключу провайдера.
func (r *Registry) Get(key string) (Adapter, bool) {
	a, ok := r.adapters[key]
	return a, ok
}

// Keys возвращает ключи зарегистрированных провайдеров.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	return keys
}

// codeEquals сравнивает код ответа провайдера с ожидаемым значением,
// принимая и числовое, и строковое представление кода.
func codeEquals(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == want
	case json.Number:
		return t.String() == want
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64) == want
	case int:
		return strconv.Itoa(t) == want
	default:
		return false
	}
}

// stringField извлекает строковое поле из разобранного ответа.
func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// nestedMap извлекает вложенный объект из разобранного ответа.
func nestedMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]any)
	return sub
}

// majorUnits форматирует сумму в основных единицах с двумя знаками.
func majorUnits(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// valuesToParams переводит url.Values в карту для подписи, беря первое
// значение каждого ключа и пропуская перечисленные ключи.
func valuesToParams(values url.Values, skip ...string) map[string]string {
	params := make(map[string]string, len(values))
	for k := range values {
		skipped := false
		for _, s := range skip {
			if k == s {
				skipped = true
				break
			}
		}
		if skipped {
			continue
		}
		params[k] = values.Get(k)
	}
	return params
}

// jsonParams разбирает JSON-тело уведомления в плоскую карту для
// подписи: скалярные поля переводятся в строки, вложенные значения не
// участвуют в подписи и пропускаются.
func jsonParams(body []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode notification body: %w", err)
	}

	params := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			params[k] = t
		case json.Number:
			params[k] = t.String()
		}
	}
	return params, nil
}

// verifySignature проверяет подпись form-уведомления: подпись считается
// по всем параметрам кроме signKey и skip, сравнение без учёта регистра.
func verifySignature(values url.Values, secret string, upper bool, mode sign.Mode, signKey string, skip ...string) bool {
	got := values.Get(signKey)
	if got == "" {
		return false
	}
	params := valuesToParams(values, append(skip, signKey)...)
	want := sign.Sign(params, secret, upper, mode)
	return strings.EqualFold(got, want)
}
