// Package provider предоставляет клиент API поставщика SMM-услуг.
//
// Протокол поставщика: GET-запросы с параметрами action и статическим
// ключом key в строке запроса, ответы в JSON. Числовые поля приходят
// строками, поэтому каждый ответ парсится явно; несоответствие формы
// превращается в ErrMalformedResponse.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
)

// ErrNotConfigured возвращается, если клиент создан без адреса API.
var (
	ErrNotConfigured = errors.New("provider client not configured")
	// ErrUnavailable возвращается после исчерпания ретраев на сетевых ошибках и 5xx.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrRejected возвращается на 4xx и на явные ошибки в теле ответа; ретраи не выполняются.
	ErrRejected = errors.New("provider rejected request")
	// ErrMalformedResponse возвращается, если ответ поставщика не соответствует ожидаемой форме.
	ErrMalformedResponse = errors.New("malformed provider response")
)

const (
	requestTimeout = 30 * time.Second
	maxRetries     = 3
)

// Client инкапсулирует HTTP-взаимодействие с API поставщика.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент API поставщика. Транспорт повторяет запросы с
// экспоненциальной задержкой на сетевых ошибках и 5xx; 4xx не ретраится.
func NewClient(baseURL, apiKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.HTTPClient.Timeout = requestTimeout
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: rc,
	}
}

func (c *Client) request(ctx context.Context, params url.Values) (json.RawMessage, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	params.Set("key", c.apiKey)
	reqURL := base + "?" + params.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}

	// Поставщик сообщает об ошибках полем error в теле с кодом 200.
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrRejected, apiErr.Error)
	}

	return raw, nil
}

// apiNumber принимает числовое поле, закодированное строкой или числом.
type apiNumber string

func (n *apiNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*n = ""
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*n = apiNumber(v)
		return nil
	}
	*n = apiNumber(s)
	return nil
}

func (n apiNumber) decimal() (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad numeric value %q", ErrMalformedResponse, string(n))
	}
	return d, nil
}

func (n apiNumber) int() (int, error) {
	if n == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(string(n))
	if err != nil {
		return 0, fmt.Errorf("%w: bad integer value %q", ErrMalformedResponse, string(n))
	}
	return v, nil
}

// Service описывает услугу из каталога поставщика.
type Service struct {
	ServiceID string
	Name      string
	Type      string
	Rate      decimal.Decimal
	Min       int
	Max       int
	Category  string
	Dripfeed  bool
	Refill    bool
}

// Services запрашивает каталог услуг поставщика.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	raw, err := c.request(ctx, url.Values{"action": {"services"}})
	if err != nil {
		return nil, err
	}

	var wire []struct {
		Service  apiNumber `json:"service"`
		Name     string    `json:"name"`
		Type     string    `json:"type"`
		Rate     apiNumber `json:"rate"`
		Min      apiNumber `json:"min"`
		Max      apiNumber `json:"max"`
		Category string    `json:"category"`
		Dripfeed bool      `json:"dripfeed"`
		Refill   bool      `json:"refill"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}

	services := make([]Service, 0, len(wire))
	for _, w := range wire {
		rate, err := w.Rate.decimal()
		if err != nil {
			return nil, err
		}
		min, err := w.Min.int()
		if err != nil {
			return nil, err
		}
		max, err := w.Max.int()
		if err != nil {
			return nil, err
		}

		services = append(services, Service{
			ServiceID: string(w.Service),
			Name:      w.Name,
			Type:      w.Type,
			Rate:      rate,
			Min:       min,
			Max:       max,
			Category:  w.Category,
			Dripfeed:  w.Dripfeed,
			Refill:    w.Refill,
		})
	}

	return services, nil
}

// BalanceInfo описывает баланс аккаунта у поставщика.
type BalanceInfo struct {
	Balance  decimal.Decimal
	Currency string
}

// Balance запрашивает остаток средств на аккаунте поставщика.
func (c *Client) Balance(ctx context.Context) (*BalanceInfo, error) {
	raw, err := c.request(ctx, url.Values{"action": {"balance"}})
	if err != nil {
		return nil, err
	}

	var wire struct {
		Balance  apiNumber `json:"balance"`
		Currency string    `json:"currency"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}

	balance, err := wire.Balance.decimal()
	if err != nil {
		return nil, err
	}

	return &BalanceInfo{Balance: balance, Currency: wire.Currency}, nil
}

// AddOrderParams содержит параметры отправки заказа поставщику.
// Runs и Interval задают режим drip-feed; нулевые значения не передаются.
type AddOrderParams struct {
	ServiceRef string
	Link       string
	Quantity   int
	Runs       int
	Interval   int
}

// OrderInfo описывает принятый поставщиком заказ.
type OrderInfo struct {
	OrderRef   string
	Charge     decimal.Decimal
	StartCount int
	Remains    int
}

// AddOrder отправляет заказ поставщику и возвращает его идентификатор в API.
func (c *Client) AddOrder(ctx context.Context, p AddOrderParams) (*OrderInfo, error) {
	params := url.Values{
		"action":   {"add"},
		"service":  {p.ServiceRef},
		"link":     {p.Link},
		"quantity": {strconv.Itoa(p.Quantity)},
	}
	if p.Runs > 0 {
		params.Set("runs", strconv.Itoa(p.Runs))
	}
	if p.Interval > 0 {
		params.Set("interval", strconv.Itoa(p.Interval))
	}

	raw, err := c.request(ctx, params)
	if err != nil {
		return nil, err
	}

	var wire struct {
		Order      apiNumber `json:"order"`
		Charge     apiNumber `json:"charge"`
		StartCount apiNumber `json:"start_count"`
		Remains    apiNumber `json:"remains"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}

	if wire.Order == "" {
		return nil, fmt.Errorf("%w: missing order id", ErrMalformedResponse)
	}

	charge, err := wire.Charge.decimal()
	if err != nil {
		return nil, err
	}
	startCount, err := wire.StartCount.int()
	if err != nil {
		return nil, err
	}
	remains, err := wire.Remains.int()
	if err != nil {
		return nil, err
	}

	return &OrderInfo{
		OrderRef:   string(wire.Order),
		Charge:     charge,
		StartCount: startCount,
		Remains:    remains,
	}, nil
}

// OrderStatus описывает состояние заказа у поставщика.
type OrderStatus struct {
	Status     string
	Charge     decimal.Decimal
	StartCount int
	Remains    int
	Currency   string
}

type statusWire struct {
	Status     string    `json:"status"`
	Charge     apiNumber `json:"charge"`
	StartCount apiNumber `json:"start_count"`
	Remains    apiNumber `json:"remains"`
	Currency   string    `json:"currency"`
	Error      string    `json:"error"`
}

func (w statusWire) toStatus() (*OrderStatus, error) {
	if w.Status == "" {
		return nil, fmt.Errorf("%w: missing status", ErrMalformedResponse)
	}

	charge, err := w.Charge.decimal()
	if err != nil {
		return nil, err
	}
	startCount, err := w.StartCount.int()
	if err != nil {
		return nil, err
	}
	remains, err := w.Remains.int()
	if err != nil {
		return nil, err
	}

	return &OrderStatus{
		Status:     w.Status,
		Charge:     charge,
		StartCount: startCount,
		Remains:    remains,
		Currency:   w.Currency,
	}, nil
}

// Status запрашивает состояние одного заказа по его идентификатору у поставщика.
func (c *Client) Status(ctx context.Context, orderRef string) (*OrderStatus, error) {
	raw, err := c.request(ctx, url.Values{"action": {"status"}, "order": {orderRef}})
	if err != nil {
		return nil, err
	}

	var wire statusWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}

	return wire.toStatus()
}

// StatusBatch запрашивает состояние нескольких заказов одним запросом.
// Идентификаторы передаются списком через запятую; ответы с ошибкой по
// отдельному заказу пропускаются и в результат не попадают.
func (c *Client) StatusBatch(ctx context.Context, orderRefs []string) (map[string]OrderStatus, error) {
	if len(orderRefs) == 0 {
		return map[string]OrderStatus{}, nil
	}

	raw, err := c.request(ctx, url.Values{"action": {"status"}, "orders": {strings.Join(orderRefs, ",")}})
	if err != nil {
		return nil, err
	}

	var wire map[string]statusWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}

	res := make(map[string]OrderStatus, len(wire))
	for ref, w := range wire {
		if w.Error != "" {
			continue
		}
		st, err := w.toStatus()
		if err != nil {
			return nil, err
		}
		res[ref] = *st
	}

	return res, nil
}
