package aptosman

import (
	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/bcs"
)

// Entry function arguments in BCS.

// bcsArgs collects serialized arguments, keeping the first error.
type bcsArgs struct {
	args [][]byte
	err  error
}

func (a *bcsArgs) add(b []byte, err error) *bcsArgs {
	if a.err != nil {
		return a
	}
	if err != nil {
		a.err = err
		return a
	}
	a.args = append(a.args, b)
	return a
}

// bytes adds a vector<u8>.
func (a *bcsArgs) bytes(b []byte) *bcsArgs {
	return a.add(bcs.SerializeBytes(b))
}

func (a *bcsArgs) u32(n uint32) *bcsArgs {
	return a.add(bcs.SerializeU32(n))
}

func (a *bcsArgs) u64(n uint64) *bcsArgs {
	return a.add(bcs.SerializeU64(n))
}

func (a *bcsArgs) address(addr aptos.AccountAddress) *bcsArgs {
	return a.add(bcs.Serialize(&addr))
}

func (a *bcsArgs) result() ([][]byte, error) {
	return a.args, a.err
}
