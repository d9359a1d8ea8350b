package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// USDTContract is the TRC20 contract of Tether on Tron.
const USDTContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

// transferSelector is the method id of transfer(address,uint256).
const transferSelector = "a9059cbb"

type tronContract struct {
	Type      string `json:"type"`
	Parameter struct {
		Value struct {
			Amount          int64  `json:"amount"`
			ToAddress       string `json:"to_address"`
			ContractAddress string `json:"contract_address"`
			Data            string `json:"data"`
		} `json:"value"`
	} `json:"parameter"`
}

type tronTx struct {
	TxID           string `json:"txID"`
	BlockTimestamp int64  `json:"block_timestamp"`
	Ret            []struct {
		ContractRet string `json:"contractRet"`
	} `json:"ret"`
	RawData struct {
		Contract []tronContract `json:"contract"`
	} `json:"raw_data"`

	// trc20 endpoint fields
	TransactionID string `json:"transaction_id"`
	To            string `json:"to"`
	Value         string `json:"value"`
	TokenInfo     struct {
		Decimals int `json:"decimals"`
	} `json:"token_info"`
}

func (tx *tronTx) succeeded() bool {
	return len(tx.Ret) > 0 && tx.Ret[0].ContractRet == "SUCCESS"
}

func (tx *tronTx) contract() *tronContract {
	if len(tx.RawData.Contract) == 0 {
		return nil
	}
	return &tx.RawData.Contract[0]
}

func (tx *tronTx) at() time.Time {
	if tx.BlockTimestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(tx.BlockTimestamp)
}

type tronResponse struct {
	Data    []tronTx `json:"data"`
	Success bool     `json:"success"`
	Error   string   `json:"error"`
}

func (v *Verifier) tronGet(ctx context.Context, path string, q url.Values) ([]tronTx, error) {
	header := http.Header{}
	if key := v.pick(v.keys.TronGrid); key != "" {
		header.Set("TRON-PRO-API-KEY", key)
	}
	var res tronResponse
	if err := v.client.GetJSON(ctx, v.endpoints.TronGrid+path+"?"+q.Encode(), header, &res); err != nil {
		return nil, err
	}
	if res.Error != "" {
		return nil, fmt.Errorf("trongrid: %s", res.Error)
	}
	return res.Data, nil
}

func (v *Verifier) tronTransfers(ctx context.Context, address string) ([]transfer, error) {
	owner, err := tronHex(address)
	if err != nil {
		return nil, err
	}
	txs, err := v.tronGet(ctx, "/v1/accounts/"+url.PathEscape(address)+"/transactions", url.Values{"only_confirmed": {"true"}})
	if err != nil {
		return nil, err
	}

	var out []transfer
	for _, tx := range txs {
		c := tx.contract()
		if !tx.succeeded() || c == nil || c.Type != "TransferContract" {
			continue
		}
		if !strings.EqualFold(c.Parameter.Value.ToAddress, owner) {
			continue
		}
		out = append(out, transfer{id: tx.TxID, amount: float64(c.Parameter.Value.Amount) / 1e6, at: tx.at()})
	}
	return out, nil
}

func (v *Verifier) trc20Transfers(ctx context.Context, address string) ([]transfer, error) {
	owner, err := tronHex(address)
	if err != nil {
		return nil, err
	}
	q := url.Values{"contract_address": {USDTContract}, "only_confirmed": {"true"}}
	txs, err := v.tronGet(ctx, "/v1/accounts/"+url.PathEscape(address)+"/transactions/trc20", q)
	if err != nil {
		return nil, err
	}

	var out []transfer
	for _, tx := range txs {
		if t, ok := trc20Transfer(&tx, address, owner); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// trc20Transfer reads either the token transfer summary or the raw
// contract call, whichever the explorer returned.
func trc20Transfer(tx *tronTx, address, owner string) (transfer, bool) {
	if tx.TransactionID != "" {
		if tx.To != address {
			return transfer{}, false
		}
		raw, err := strconv.ParseFloat(tx.Value, 64)
		if err != nil {
			return transfer{}, false
		}
		decimals := tx.TokenInfo.Decimals
		if decimals == 0 {
			decimals = 6
		}
		return transfer{id: tx.TransactionID, amount: raw / pow10(decimals), at: tx.at()}, true
	}

	c := tx.contract()
	if !tx.succeeded() || c == nil || c.Type != "TriggerSmartContract" {
		return transfer{}, false
	}
	data := c.Parameter.Value.Data
	if !strings.HasPrefix(data, transferSelector) || len(data) < 136 {
		return transfer{}, false
	}
	// the recipient is the low 20 bytes of the first argument
	if !strings.EqualFold("41"+data[32:72], owner) {
		return transfer{}, false
	}
	raw, err := strconv.ParseUint(strings.TrimLeft(data[72:136], "0"), 16, 64)
	if err != nil {
		return transfer{}, false
	}
	return transfer{id: tx.TxID, amount: float64(raw) / 1e6, at: tx.at()}, true
}

type blockcypherResponse struct {
	Txs []struct {
		Hash          string    `json:"hash"`
		Confirmations int       `json:"confirmations"`
		Confirmed     time.Time `json:"confirmed"`
		Outputs       []struct {
			Value     int64    `json:"value"`
			Addresses []string `json:"addresses"`
		} `json:"outputs"`
	} `json:"txs"`
}

func (v *Verifier) bitcoinTransfers(ctx context.Context, address string) ([]transfer, error) {
	q := url.Values{}
	if v.keys.BlockCypher != "" {
		q.Set("token", v.keys.BlockCypher)
	}
	u := v.endpoints.BlockCypher + "/v1/btc/main/addrs/" + url.PathEscape(address) + "/full?" + q.Encode()

	var res blockcypherResponse
	if err := v.client.GetJSON(ctx, u, nil, &res); err != nil {
		return nil, err
	}

	var out []transfer
	for _, tx := range res.Txs {
		if tx.Confirmations <= 0 {
			continue
		}
		var received int64
		for _, o := range tx.Outputs {
			if len(o.Addresses) > 0 && o.Addresses[0] == address {
				received += o.Value
			}
		}
		if received > 0 {
			out = append(out, transfer{id: tx.Hash, amount: float64(received) / 1e8, at: tx.Confirmed})
		}
	}
	return out, nil
}

type etherscanTx struct {
	Hash          string `json:"hash"`
	To            string `json:"to"`
	Value         string `json:"value"`
	Confirmations string `json:"confirmations"`
	TimeStamp     string `json:"timeStamp"`
	IsError       string `json:"isError"`
}

type etherscanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// etherscanTransfers works against etherscan and its BSC sibling, which share the api.
func (v *Verifier) etherscanTransfers(ctx context.Context, base, key, address string) ([]transfer, error) {
	q := url.Values{
		"module":  {"account"},
		"action":  {"txlist"},
		"address": {address},
		"sort":    {"desc"},
	}
	if key != "" {
		q.Set("apikey", key)
	}

	var res etherscanResponse
	if err := v.client.GetJSON(ctx, base+"?"+q.Encode(), nil, &res); err != nil {
		return nil, err
	}

	var txs []etherscanTx
	if err := json.Unmarshal(res.Result, &txs); err != nil {
		// errors come back as a string result
		var msg string
		json.Unmarshal(res.Result, &msg)
		if res.Message == "No transactions found" {
			return nil, nil
		}
		return nil, fmt.Errorf("explorer: %s: %s", res.Message, msg)
	}

	var out []transfer
	for _, tx := range txs {
		confirmations, _ := strconv.ParseInt(tx.Confirmations, 10, 64)
		if confirmations <= 0 || tx.IsError == "1" || !strings.EqualFold(tx.To, address) {
			continue
		}
		wei, err := strconv.ParseFloat(tx.Value, 64)
		if err != nil {
			continue
		}
		var at time.Time
		if ts, err := strconv.ParseInt(tx.TimeStamp, 10, 64); err == nil {
			at = time.Unix(ts, 0)
		}
		out = append(out, transfer{id: tx.Hash, amount: wei / 1e18, at: at})
	}
	return out, nil
}

func pow10(n int) float64 {
	f := 1.0
	for range n {
		f *= 10
	}
	return f
}
