package scrape

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrInvalidAddress is returned for keys that are not 20-byte hex addresses.
var ErrInvalidAddress = errors.New("invalid contract address")

// RPC fetches code with eth_getCode at the latest block.
type RPC struct {
	client *ethclient.Client
}

// Dial connects to a node endpoint (http, ws or ipc).
func Dial(ctx context.Context, url string) (*RPC, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	return &RPC{client: client}, nil
}

// Code implements Fetcher. Accounts without code yield "0x".
func (r *RPC) Code(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	code, err := r.client.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return "", fmt.Errorf("eth_getCode %s: %w", address, err)
	}

	return hexutil.Encode(code), nil
}

// Close releases the connection.
func (r *RPC) Close() error {
	r.client.Close()

	return nil
}
