package bybit

import (
	"context"
	"fmt"
	"strings"
)

// AccountType represents different account types in Bybit
type AccountType string

const (
	AccountTypeUnified AccountType = "UNIFIED"
)

// GetWallet retrieves the unified wallet, optionally limited to some coins
func (c *Client) GetWallet(ctx context.Context, coins ...string) (*Wallet, error) {
	params := map[string]interface{}{
		"accountType": string(AccountTypeUnified),
	}
	if len(coins) > 0 {
		params["coin"] = strings.Join(coins, ",")
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account balance: %w", err)
	}

	wallet, err := parseWalletResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse account balance response: %w", err)
	}
	return wallet, nil
}

// GetCoinBalance returns one coin of the wallet. A coin the account never held has a zero balance.
func (c *Client) GetCoinBalance(ctx context.Context, coin string) (CoinBalance, error) {
	wallet, err := c.GetWallet(ctx, coin)
	if err != nil {
		return CoinBalance{}, err
	}
	if balance, ok := wallet.Coins[coin]; ok {
		return balance, nil
	}
	return CoinBalance{Coin: coin}, nil
}

func parseWalletResponse(response interface{}) (*Wallet, error) {
	var walletResult struct {
		List []struct {
			AccountType string `json:"accountType"`
			TotalEquity string `json:"totalEquity"`
			Coin        []struct {
				Coin          string `json:"coin"`
				Equity        string `json:"equity"`
				UsdValue      string `json:"usdValue"`
				WalletBalance string `json:"walletBalance"`
				Locked        string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := decodeResult(response, &walletResult); err != nil {
		return nil, err
	}

	if len(walletResult.List) == 0 {
		return nil, fmt.Errorf("no account data found")
	}

	account := walletResult.List[0]
	wallet := &Wallet{
		AccountType: account.AccountType,
		TotalEquity: parseFloat64(account.TotalEquity),
		Coins:       make(map[string]CoinBalance, len(account.Coin)),
	}
	for _, coin := range account.Coin {
		wallet.Coins[coin.Coin] = CoinBalance{
			Coin:          coin.Coin,
			Equity:        parseFloat64(coin.Equity),
			UsdValue:      parseFloat64(coin.UsdValue),
			WalletBalance: parseFloat64(coin.WalletBalance),
			Locked:        parseFloat64(coin.Locked),
		}
	}
	return wallet, nil
}
