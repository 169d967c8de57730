package events

import (
	"math/big"

	"dscengine/crypto"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressString(addr crypto.Address) string {
	if addr.Prefix() == "" {
		return addr.Hex()
	}
	return addr.String()
}
