// Package bank talks to the external funds-transfer service. The bank is a
// collaborator with its own lifecycle: its calls are never part of the
// market's store transaction.
package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/marketops/internal/domain"
)

// Account is the bank's view of a trader's funds.
type Account struct {
	Owner   string          `json:"owner"`
	Balance decimal.Decimal `json:"balance"`
}

// Client is the contract the market depends on. Each call stands alone;
// withdraw-then-deposit is two calls and a failure between them is a fatal
// consistency error handled by the caller.
type Client interface {
	// FindAccount returns nil (not an error) when the owner has no account.
	FindAccount(ctx context.Context, owner string) (*Account, error)
	Deposit(ctx context.Context, owner string, amount decimal.Decimal) error
	// Withdraw rejects with domain.ErrInsufficientFunds when the balance
	// cannot cover the amount.
	Withdraw(ctx context.Context, owner string, amount decimal.Decimal) error
}

// HTTPClient implements Client against the bank's REST surface.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) FindAccount(ctx context.Context, owner string) (*Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/accounts/"+url.PathEscape(owner), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bank unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var acc Account
		if err := json.NewDecoder(resp.Body).Decode(&acc); err != nil {
			return nil, fmt.Errorf("bank response malformed: %w", err)
		}
		return &acc, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("bank account lookup: unexpected status %d", resp.StatusCode)
	}
}

func (c *HTTPClient) Deposit(ctx context.Context, owner string, amount decimal.Decimal) error {
	return c.transfer(ctx, owner, "deposit", amount)
}

func (c *HTTPClient) Withdraw(ctx context.Context, owner string, amount decimal.Decimal) error {
	return c.transfer(ctx, owner, "withdraw", amount)
}

func (c *HTTPClient) transfer(ctx context.Context, owner, op string, amount decimal.Decimal) error {
	body, err := json.Marshal(map[string]decimal.Decimal{"amount": amount})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/accounts/"+url.PathEscape(owner)+"/"+op, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bank unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return domain.ErrNoAccount
	case http.StatusUnprocessableEntity:
		return domain.ErrInsufficientFunds
	default:
		return fmt.Errorf("bank %s: unexpected status %d", op, resp.StatusCode)
	}
}
