package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pharmadeal/internal/content"
	"pharmadeal/internal/models"

	"github.com/c-pro/geche"
)

const (
	searchCacheTTL   = 5 * time.Minute
	pharmacyCacheTTL = 10 * time.Minute
	cacheCleanup     = time.Minute
)

// Error is a REST call failure carrying the human-readable message
// extracted from the response body, or the per-operation fallback when
// the body has none.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// envelope is the response wrapper used by every marketplace endpoint.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client talks to the marketplace REST API. Drug searches and pharmacy
// details are cached with a TTL; everything else goes to the server on
// every call. No operation is retried: a failure is terminal for that
// attempt.
type Client struct {
	baseURL string
	httpc   *http.Client
	token   string

	drugCache     geche.Geche[string, []models.Drug]
	pharmacyCache geche.Geche[string, models.Pharmacy]
}

func NewClient(ctx context.Context, baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		httpc:         &http.Client{Timeout: timeout},
		drugCache:     geche.NewMapTTLCache[string, []models.Drug](ctx, searchCacheTTL, cacheCleanup),
		pharmacyCache: geche.NewMapTTLCache[string, models.Pharmacy](ctx, pharmacyCacheTTL, cacheCleanup),
	}
}

// SetToken sets the bearer token attached to subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) do(ctx context.Context, method, path string, body any, fallback string) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &Error{Message: fallback}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: fallback}
	}

	var env envelope
	// The body may be empty on deletes; a decode failure only matters
	// for error responses, where we fall back to the generic message.
	_ = json.Unmarshal(respBody, &env)

	if resp.StatusCode >= 400 {
		msg := env.Message
		if msg == "" {
			msg = fallback
		}
		return nil, &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	return env.Data, nil
}

// CreateDeal creates a new deal listing.
func (c *Client) CreateDeal(ctx context.Context, deal models.Deal) (models.Deal, error) {
	data, err := c.do(ctx, http.MethodPost, "/deals", deal, "Failed to create deal")
	if err != nil {
		return models.Deal{}, err
	}
	return decodeDeal(data)
}

// ListDeals fetches deals matching the query parameters.
func (c *Client) ListDeals(ctx context.Context, query url.Values) ([]models.Deal, error) {
	path := "/deals"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	data, err := c.do(ctx, http.MethodGet, path, nil, "Failed to fetch deals")
	if err != nil {
		return nil, err
	}
	var payload struct {
		Deals []models.Deal `json:"deals"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode deals: %w", err)
	}
	return payload.Deals, nil
}

// GetDeal fetches a single deal by ID.
func (c *Client) GetDeal(ctx context.Context, dealID string) (models.Deal, error) {
	data, err := c.do(ctx, http.MethodGet, "/deals/"+url.PathEscape(dealID), nil, "Failed to fetch deal")
	if err != nil {
		return models.Deal{}, err
	}
	return decodeDeal(data)
}

// UpdateDeal applies a partial update to a deal.
func (c *Client) UpdateDeal(ctx context.Context, dealID string, patch models.Deal) (models.Deal, error) {
	data, err := c.do(ctx, http.MethodPatch, "/deals/"+url.PathEscape(dealID), patch, "Failed to update deal")
	if err != nil {
		return models.Deal{}, err
	}
	return decodeDeal(data)
}

// DeleteDeal removes a deal.
func (c *Client) DeleteDeal(ctx context.Context, dealID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/deals/"+url.PathEscape(dealID), nil, "Failed to delete deal")
	return err
}

// UpdateDealStatus opens or closes a deal.
func (c *Client) UpdateDealStatus(ctx context.Context, dealID string, isClosed bool) error {
	body := map[string]bool{"isClosed": isClosed}
	_, err := c.do(ctx, http.MethodPatch, "/deals/"+url.PathEscape(dealID)+"/status", body, "Failed to update deal status")
	return err
}

// RemainingDeals returns the caller's remaining deal quota.
func (c *Client) RemainingDeals(ctx context.Context) (int, error) {
	data, err := c.do(ctx, http.MethodGet, "/deals/remaining-deals", nil, "Failed to fetch remaining deals")
	if err != nil {
		return 0, err
	}
	var payload struct {
		RemainingDeals int `json:"remainingDeals"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("failed to decode remaining deals: %w", err)
	}
	return payload.RemainingDeals, nil
}

// SearchDrugs searches drugs by text query with a page-size limit.
// Results are cached per query for a few minutes.
func (c *Client) SearchDrugs(ctx context.Context, search string, size int) ([]models.Drug, error) {
	key := fmt.Sprintf("%s|%d", search, size)
	if drugs, err := c.drugCache.Get(key); err == nil {
		return drugs, nil
	}

	query := url.Values{}
	if search != "" {
		query.Set("search", search)
	}
	query.Set("size", fmt.Sprintf("%d", size))

	data, err := c.do(ctx, http.MethodGet, "/drugs?"+query.Encode(), nil, "Failed to fetch drugs")
	if err != nil {
		return nil, err
	}
	var payload struct {
		Drugs []models.Drug `json:"drugs"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode drugs: %w", err)
	}

	c.drugCache.Set(key, payload.Drugs)
	return payload.Drugs, nil
}

// CreateDrugAlert subscribes the caller to alerts for a set of drug
// names. An empty or invalid set is rejected locally without a network
// call.
func (c *Client) CreateDrugAlert(ctx context.Context, drugNames []string) error {
	if len(drugNames) == 0 {
		return fmt.Errorf("at least one drug must be selected")
	}
	for _, name := range drugNames {
		if err := content.ValidateDrugName(name); err != nil {
			return fmt.Errorf("invalid drug name %q: %w", name, err)
		}
	}

	body := map[string][]string{"drugNames": drugNames}
	_, err := c.do(ctx, http.MethodPost, "/drug-alerts", body, "Failed to create drug alerts")
	return err
}

// GetPharmacy fetches pharmacy details by ID, cached with a TTL.
func (c *Client) GetPharmacy(ctx context.Context, pharmacyID string) (models.Pharmacy, error) {
	if pharmacy, err := c.pharmacyCache.Get(pharmacyID); err == nil {
		return pharmacy, nil
	}

	data, err := c.do(ctx, http.MethodGet, "/pharmacies/"+url.PathEscape(pharmacyID), nil, "Failed to load pharmacy details")
	if err != nil {
		return models.Pharmacy{}, err
	}
	var payload struct {
		Pharmacy models.Pharmacy `json:"pharmacy"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return models.Pharmacy{}, fmt.Errorf("failed to decode pharmacy: %w", err)
	}

	c.pharmacyCache.Set(pharmacyID, payload.Pharmacy)
	return payload.Pharmacy, nil
}

// RequestAdvertisement submits an advertisement request.
func (c *Client) RequestAdvertisement(ctx context.Context, payload any) error {
	_, err := c.do(ctx, http.MethodPost, "/advertisement-request", payload, "Failed to submit advertisement request")
	return err
}

func decodeDeal(data json.RawMessage) (models.Deal, error) {
	var payload struct {
		Deal models.Deal `json:"deal"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return models.Deal{}, fmt.Errorf("failed to decode deal: %w", err)
	}
	return payload.Deal, nil
}
