// Package catalog предоставляет клиент для внешнего каталога товаров.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/cash-drawer/internal/model"
	"github.com/mmeshcher/cash-drawer/internal/repository"
)

const (
	minRetryAfter = 100 * time.Millisecond
	maxRetryAfter = 2 * time.Second
)

// Client инкапсулирует HTTP-взаимодействие с каталогом товаров.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для обращения к каталогу по указанному адресу.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetProducts возвращает товары кассы с указанными id.
func (c *Client) GetProducts(ctx context.Context, instanceID string, ids []int64) ([]model.Product, error) {
	all, err := c.listProducts(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	var res []model.Product
	for _, p := range all {
		if slices.Contains(ids, p.ID) {
			res = append(res, p)
		}
	}
	return res, nil
}

// FindProductsBySeller возвращает товары кассы, принадлежащие продавцу.
func (c *Client) FindProductsBySeller(ctx context.Context, instanceID, seller string) ([]model.Product, error) {
	all, err := c.listProducts(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	var res []model.Product
	for _, p := range all {
		if p.BelongsTo(seller) {
			res = append(res, p)
		}
	}
	return res, nil
}

func (c *Client) listProducts(ctx context.Context, instanceID string) ([]model.Product, error) {
	endpoint := fmt.Sprintf("%s/api/instances/%s/products", c.baseURL, url.PathEscape(instanceID))

	products, retryAfter, err := c.fetch(ctx, endpoint)
	if err == nil || retryAfter == 0 {
		return products, err
	}

	timer := time.NewTimer(min(retryAfter, maxRetryAfter))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	products, _, err = c.fetch(ctx, endpoint)
	return products, err
}

func (c *Client) fetch(ctx context.Context, endpoint string) ([]model.Product, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, 0, fmt.Errorf("%w: catalog for instance", repository.ErrNotFound)
	case http.StatusTooManyRequests:
		retryAfter := time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = max(time.Duration(seconds)*time.Second, minRetryAfter)
			}
		}
		return nil, retryAfter, fmt.Errorf("catalog rate limited")
	default:
		return nil, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var products []model.Product
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}
	return products, 0, nil
}
