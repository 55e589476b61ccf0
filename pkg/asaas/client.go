/**
 * @description
 * This package provides a client for interacting with the Asaas payment API.
 * It encapsulates the logic for making authenticated HTTP requests to Asaas'
 * endpoints, handling request body construction, and parsing responses.
 *
 * Monetary values cross this boundary as decimal BRL because that is what the
 * Asaas wire format uses; everything inside the service stays in integer
 * centavos and is converted here.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact centavos <-> BRL conversion.
 */
package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a client for the Asaas API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new Asaas API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SplitInstruction routes a fixed slice of a payment to another Asaas wallet.
type SplitInstruction struct {
	WalletID   string          `json:"walletId"`
	FixedValue decimal.Decimal `json:"fixedValue"`
}

// CreateChargeRequest represents the payload for an Asaas payment.
type CreateChargeRequest struct {
	Customer          string             `json:"customer"`
	BillingType       string             `json:"billingType"`
	Value             decimal.Decimal    `json:"value"`
	DueDate           string             `json:"dueDate"`
	Description       string             `json:"description"`
	ExternalReference string             `json:"externalReference,omitempty"`
	Split             []SplitInstruction `json:"split,omitempty"`
}

// ChargeResponse is the expected response from Asaas' payment endpoints.
type ChargeResponse struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Value       decimal.Decimal `json:"value"`
	DueDate     string          `json:"dueDate"`
	InvoiceURL  string          `json:"invoiceUrl"`
	BankSlipURL string          `json:"bankSlipUrl"`
}

// ErrorResponse represents an error from the Asaas API.
type ErrorResponse struct {
	StatusCode int `json:"-"`
	Errors     []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("asaas api error: %s - %s", e.Errors[0].Code, e.Errors[0].Description)
	}
	return fmt.Sprintf("unknown asaas api error (status %d)", e.StatusCode)
}

// Transient reports whether the failure is worth retrying. Asaas returns
// 5xx and 429 for conditions that clear on their own; 4xx payload errors
// never will.
func (e *ErrorResponse) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// CentavosToBRL converts an integer centavos amount to the decimal BRL
// representation the Asaas wire format expects.
func CentavosToBRL(centavos int64) decimal.Decimal {
	return decimal.NewFromInt(centavos).DivRound(decimal.NewFromInt(100), 2)
}

// BRLToCentavos converts a decimal BRL amount back to integer centavos.
func BRLToCentavos(value decimal.Decimal) int64 {
	return value.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// CreateCharge creates a boleto payment against a customer, optionally with
// split routing instructions.
func (c *Client) CreateCharge(ctx context.Context, customerID string, valueCentavos int64, dueDate time.Time, description, externalReference string, split []SplitInstruction) (*ChargeResponse, error) {
	reqPayload := CreateChargeRequest{
		Customer:          customerID,
		BillingType:       "BOLETO",
		Value:             CentavosToBRL(valueCentavos),
		DueDate:           dueDate.Format("2006-01-02"),
		Description:       description,
		ExternalReference: externalReference,
		Split:             split,
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v3/payments", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create charge request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("access_token", c.APIKey)

	return c.doCharge(req, "create_charge")
}

// GetChargeStatus fetches the current state of a payment from Asaas.
func (c *Client) GetChargeStatus(ctx context.Context, chargeID string) (*ChargeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/v3/payments/"+chargeID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("access_token", c.APIKey)

	return c.doCharge(req, "get_charge_status")
}

// CancelCharge voids a pending payment at the gateway.
func (c *Client) CancelCharge(ctx context.Context, chargeID string) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.BaseURL+"/v3/payments/"+chargeID, nil)
	if err != nil {
		return fmt.Errorf("failed to create cancel request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("access_token", c.APIKey)

	_, err = c.doCharge(req, "cancel_charge")
	return err
}

// doCharge executes a payment request and parses the response.
func (c *Client) doCharge(req *http.Request, op string) (*ChargeResponse, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=asaas_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=asaas_client op=%s status=%d detail=%q", op, resp.StatusCode, firstErrorDescription(errResp))
		return nil, &errResp
	}

	var chargeResp ChargeResponse
	if err := json.Unmarshal(bodyBytes, &chargeResp); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}

	return &chargeResp, nil
}

func firstErrorDescription(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Description
}
