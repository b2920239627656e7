// Package zil renders marketplace identities the way Zilliqa wallets display them.
package zil

import (
	"strings"

	"github.com/Zilliqa/gozilliqa-sdk/bech32"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

func ToBech32(address common.Address) string {
	bech32Address, err := bech32.ToBech32Address(strings.TrimPrefix(strings.ToLower(address.Hex()), "0x"))
	if err != nil {
		zap.L().With(zap.Error(err), zap.String("address", address.Hex())).Error("Failed to create bech32 address")
		return ""
	}

	return bech32Address
}

// ParseAddress accepts either a hex or a bech32 (zil1...) address.
func ParseAddress(address string) (common.Address, bool) {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(strings.ToLower(address), "zil1") {
		hex, err := bech32.FromBech32Addr(address)
		if err != nil {
			return common.Address{}, false
		}
		address = hex
	}

	if !common.IsHexAddress(address) {
		return common.Address{}, false
	}

	return common.HexToAddress(address), true
}
