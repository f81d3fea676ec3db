/*
This file contains filter/select operations on UTXO.
*/
package utxo

import (
	"errors"
)

var ErrNoUtxo = errors.New("no utxo")

// Largest picks the biggest output, the usual candidate for a wallet's
// main utxo. Ties go to the first one.
func Largest(inputs []UTXO) (UTXO, error) {
	if len(inputs) == 0 {
		return UTXO{}, ErrNoUtxo
	}
	best := inputs[0]
	for _, item := range inputs[1:] {
		if item.Value > best.Value {
			best = item
		}
	}
	return best, nil
}

// Total sums up the value of inputs, in satoshi.
func Total(inputs []UTXO) uint64 {
	var sum uint64
	for _, item := range inputs {
		sum += item.Value
	}
	return sum
}
