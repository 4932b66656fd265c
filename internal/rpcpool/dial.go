package rpcpool

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"
)

// DialEthclient is the production Dialer, backed by ethclient.DialContext.
func DialEthclient(ctx context.Context, url string) (RPCClient, error) {
	return ethclient.DialContext(ctx, url)
}
