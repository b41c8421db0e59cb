package tron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/assets"
	"tronwatch/apps/tronwatch/internal/metrics"
	"tronwatch/apps/tronwatch/internal/model"
)

const (
	defaultPageLimit = 20
	maxListingPages  = 5
	defaultTimeout   = 15 * time.Second
	apiKeyHeader     = "TRON-PRO-API-KEY"

	transferContract = "TransferContract"
	contractSuccess  = "SUCCESS"
)

// Client is a thin TronGrid HTTP client.
type Client struct {
	baseURL    string
	apiKey     string
	pageLimit  int
	httpClient *http.Client
	assets     *assets.AssetRegistry
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.httpClient = c }
}

func WithPageLimit(limit int) Option {
	return func(client *Client) { client.pageLimit = limit }
}

func NewClient(baseURL, apiKey string, registry *assets.AssetRegistry, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		pageLimit:  defaultPageLimit,
		httpClient: &http.Client{Timeout: defaultTimeout},
		assets:     registry,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type trc20Transfer struct {
	TransactionID  string `json:"transaction_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Value          string `json:"value"`
	BlockTimestamp int64  `json:"block_timestamp"`
	TokenInfo      struct {
		Address string `json:"address"`
	} `json:"token_info"`
}

type trxTransaction struct {
	TxID           string `json:"txID"`
	BlockTimestamp int64  `json:"block_timestamp"`
	Ret            []struct {
		ContractRet string `json:"contractRet"`
	} `json:"ret"`
	RawData struct {
		Contract []struct {
			Type      string `json:"type"`
			Parameter struct {
				Value struct {
					Amount       json.Number `json:"amount"`
					OwnerAddress string      `json:"owner_address"`
					ToAddress    string      `json:"to_address"`
				} `json:"value"`
			} `json:"parameter"`
		} `json:"contract"`
	} `json:"raw_data"`
}

// FetchTransfers returns native TRX and USDT transfers touching address with a block timestamp at or after
// sinceMs, deduplicated by id and sorted oldest first. Both listings must succeed. When a listing has more rows
// than maxListingPages pages hold, the batch is cut at that listing's last timestamp.
func (c *Client) FetchTransfers(ctx context.Context, address string, sinceMs int64) (model.TransferBatch, error) {
	trc20, err := c.fetchTRC20(ctx, address, sinceMs)
	if err != nil {
		return model.TransferBatch{}, fmt.Errorf("failed to fetch TRC20 transfers for %s: %w", address, err)
	}
	native, err := c.fetchNative(ctx, address, sinceMs)
	if err != nil {
		return model.TransferBatch{}, fmt.Errorf("failed to fetch TRX transfers for %s: %w", address, err)
	}

	var batch model.TransferBatch
	for _, l := range []listing{trc20, native} {
		if l.truncated && (!batch.Truncated || l.through < batch.Through) {
			batch.Truncated = true
			batch.Through = l.through
		}
	}
	if batch.Truncated {
		c.logger.Info("Transfer listing truncated", zap.String("address", address), zap.Int64("through", batch.Through))
	}

	byID := make(map[string]model.Transfer, len(trc20.transfers)+len(native.transfers))
	for _, t := range append(trc20.transfers, native.transfers...) {
		if batch.Truncated && t.Timestamp > batch.Through {
			continue
		}
		byID[t.ID] = t
	}
	transfers := make([]model.Transfer, 0, len(byID))
	for _, t := range byID {
		transfers = append(transfers, t)
	}
	sort.Slice(transfers, func(i, j int) bool {
		if transfers[i].Timestamp != transfers[j].Timestamp {
			return transfers[i].Timestamp < transfers[j].Timestamp
		}
		return transfers[i].ID < transfers[j].ID
	})
	batch.Transfers = transfers
	return batch, nil
}

// listing is one endpoint's converted rows. through is the block timestamp of the last row read when the
// endpoint still had rows left.
type listing struct {
	transfers []model.Transfer
	truncated bool
	through   int64
}

type listingPage[T any] struct {
	Data []T `json:"data"`
	Meta struct {
		Fingerprint string `json:"fingerprint"`
	} `json:"meta"`
}

func (c *Client) listingQuery(sinceMs int64) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageLimit))
	q.Set("min_timestamp", strconv.FormatInt(sinceMs, 10))
	q.Set("order_by", "block_timestamp,asc")
	return q
}

// readListing follows fingerprint pagination for at most maxListingPages pages. A full last page means the
// listing was not exhausted, including when no fingerprint came back to continue from.
func readListing[T any](ctx context.Context, c *Client, endpoint, path string, query url.Values) ([]T, bool, error) {
	var rows []T
	for page := 0; page < maxListingPages; page++ {
		var resp listingPage[T]
		if err := c.get(ctx, endpoint, path, query, &resp); err != nil {
			return nil, false, err
		}
		rows = append(rows, resp.Data...)
		if len(resp.Data) < c.pageLimit {
			return rows, false, nil
		}
		if resp.Meta.Fingerprint == "" {
			break
		}
		query.Set("fingerprint", resp.Meta.Fingerprint)
	}
	return rows, len(rows) > 0, nil
}

func (c *Client) fetchTRC20(ctx context.Context, address string, sinceMs int64) (listing, error) {
	usdt := c.assets.USDT()
	q := c.listingQuery(sinceMs)
	q.Set("contract_address", usdt.Contract)

	rows, truncated, err := readListing[trc20Transfer](ctx, c, "trc20_transactions", "/v1/accounts/"+url.PathEscape(address)+"/transactions/trc20", q)
	if err != nil {
		return listing{}, err
	}

	out := listing{transfers: make([]model.Transfer, 0, len(rows)), truncated: truncated}
	if truncated {
		out.through = rows[len(rows)-1].BlockTimestamp
	}
	for _, tx := range rows {
		if tx.TokenInfo.Address != "" && tx.TokenInfo.Address != usdt.Contract {
			continue
		}
		amount, err := usdt.FromBaseUnits(tx.Value)
		if err != nil {
			c.logger.Warn("Skipping TRC20 transfer with bad value", zap.String("tx_id", tx.TransactionID), zap.Error(err))
			continue
		}
		out.transfers = append(out.transfers, model.Transfer{
			ID:        tx.TransactionID,
			From:      normalizeAddress(tx.From),
			To:        normalizeAddress(tx.To),
			Asset:     usdt.Symbol,
			Amount:    amount,
			Timestamp: tx.BlockTimestamp,
		})
	}
	return out, nil
}

func (c *Client) fetchNative(ctx context.Context, address string, sinceMs int64) (listing, error) {
	trx := c.assets.TRX()

	rows, truncated, err := readListing[trxTransaction](ctx, c, "trx_transactions", "/v1/accounts/"+url.PathEscape(address)+"/transactions", c.listingQuery(sinceMs))
	if err != nil {
		return listing{}, err
	}

	out := listing{transfers: make([]model.Transfer, 0, len(rows)), truncated: truncated}
	if truncated {
		out.through = rows[len(rows)-1].BlockTimestamp
	}
	for _, tx := range rows {
		if len(tx.RawData.Contract) == 0 || tx.RawData.Contract[0].Type != transferContract {
			continue
		}
		if len(tx.Ret) > 0 && tx.Ret[0].ContractRet != "" && tx.Ret[0].ContractRet != contractSuccess {
			continue
		}

		value := tx.RawData.Contract[0].Parameter.Value
		amount, err := trx.FromBaseUnits(value.Amount.String())
		if err != nil || !amount.IsPositive() {
			continue
		}
		from, err := HexToBase58(value.OwnerAddress)
		if err != nil {
			from = normalizeAddress(value.OwnerAddress)
		}
		to, err := HexToBase58(value.ToAddress)
		if err != nil {
			to = normalizeAddress(value.ToAddress)
		}

		out.transfers = append(out.transfers, model.Transfer{
			ID:        tx.TxID,
			From:      from,
			To:        to,
			Asset:     trx.Symbol,
			Amount:    amount,
			Timestamp: tx.BlockTimestamp,
		})
	}
	return out, nil
}

// ResolveSender returns the owner address of a transaction. The boolean is false when the transaction is unknown.
func (c *Client) ResolveSender(ctx context.Context, txID string) (string, bool, error) {
	var resp struct {
		TxID    string `json:"txID"`
		RawData struct {
			Contract []struct {
				Parameter struct {
					Value struct {
						OwnerAddress string `json:"owner_address"`
					} `json:"value"`
				} `json:"parameter"`
			} `json:"contract"`
		} `json:"raw_data"`
	}
	body := map[string]any{"value": txID, "visible": true}
	if err := c.post(ctx, "get_transaction_by_id", "/wallet/gettransactionbyid", body, &resp); err != nil {
		return "", false, err
	}

	if resp.TxID == "" || len(resp.RawData.Contract) == 0 {
		return "", false, nil
	}
	owner := normalizeAddress(resp.RawData.Contract[0].Parameter.Value.OwnerAddress)
	if owner == "" {
		return "", false, nil
	}
	return owner, true, nil
}

type accountResponse struct {
	Data []struct {
		Balance            int64 `json:"balance"`
		CreateTime         int64 `json:"create_time"`
		LatestOprationTime int64 `json:"latest_opration_time"`
		Frozen             []struct {
			FrozenBalance int64 `json:"frozen_balance"`
		} `json:"frozen"`
		FrozenV2 []struct {
			Amount int64 `json:"amount"`
		} `json:"frozenV2"`
		AccountResource struct {
			FrozenBalanceForEnergy struct {
				FrozenBalance int64 `json:"frozen_balance"`
			} `json:"frozen_balance_for_energy"`
		} `json:"account_resource"`
		TRC20 []map[string]string `json:"trc20"`
	} `json:"data"`
}

type accountResource struct {
	FreeNetLimit int64 `json:"freeNetLimit"`
	FreeNetUsed  int64 `json:"freeNetUsed"`
	NetLimit     int64 `json:"NetLimit"`
	NetUsed      int64 `json:"NetUsed"`
	EnergyLimit  int64 `json:"EnergyLimit"`
	EnergyUsed   int64 `json:"EnergyUsed"`
}

// AccountSnapshot returns balances and resources for address, or nil when the account does not exist on chain.
func (c *Client) AccountSnapshot(ctx context.Context, address string) (*model.AccountSnapshot, error) {
	var account accountResponse
	if err := c.get(ctx, "account", "/v1/accounts/"+url.PathEscape(address), nil, &account); err != nil {
		return nil, fmt.Errorf("failed to fetch account %s: %w", address, err)
	}
	if len(account.Data) == 0 {
		return nil, nil
	}
	info := account.Data[0]

	resource := accountResource{FreeNetLimit: 5000}
	body := map[string]any{"address": address, "visible": true}
	if err := c.post(ctx, "account_resource", "/wallet/getaccountresource", body, &resource); err != nil {
		c.logger.Warn("Failed to fetch account resources, using defaults", zap.String("address", address), zap.Error(err))
	}

	staked := info.AccountResource.FrozenBalanceForEnergy.FrozenBalance
	for _, f := range info.Frozen {
		staked += f.FrozenBalance
	}
	for _, f := range info.FrozenV2 {
		staked += f.Amount
	}

	usdt := c.assets.USDT()
	usdtBalance := decimal.Zero
	for _, entry := range info.TRC20 {
		if raw, ok := entry[usdt.Contract]; ok {
			if v, err := usdt.FromBaseUnits(raw); err == nil {
				usdtBalance = v
			}
		}
	}

	lastOp := info.LatestOprationTime
	if lastOp == 0 {
		lastOp = info.CreateTime
	}

	return &model.AccountSnapshot{
		Address:         address,
		TRXBalance:      decimal.New(info.Balance, -6),
		USDTBalance:     usdtBalance,
		EnergyLimit:     resource.EnergyLimit,
		EnergyUsed:      resource.EnergyUsed,
		NetLimit:        resource.FreeNetLimit + resource.NetLimit,
		NetUsed:         resource.FreeNetUsed + resource.NetUsed,
		TotalStaked:     decimal.New(staked, -6),
		CreatedAt:       time.UnixMilli(info.CreateTime).UTC(),
		LastOperationAt: time.UnixMilli(lastOp).UTC(),
	}, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, endpoint, out)
}

func (c *Client) post(ctx context.Context, endpoint, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, endpoint, out)
}

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ChainQueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ChainQueryErrors.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ChainQueryErrors.WithLabelValues(endpoint).Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.ChainQueryErrors.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
