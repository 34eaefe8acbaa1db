package bundle

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
)

// wireOp matches the (address target, uint256 value, bytes data) tuple.
type wireOp struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

func toWire(ops []Op) []wireOp {
	out := make([]wireOp, len(ops))
	for i, op := range ops {
		value := op.Value
		if value == nil {
			value = new(big.Int)
		}
		out[i] = wireOp{Target: op.Target, Value: value, Data: op.Data}
	}
	return out
}

func callOp(target common.Address, value *big.Int, contract abi.ABI, method string, args ...interface{}) (Op, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return Op{}, fmt.Errorf("pack %s: %w", method, err)
	}
	v := new(big.Int)
	if value != nil {
		v.Set(value)
	}
	return Op{Target: target, Value: v, Data: data}, nil
}

// DecodeBundle recovers the ops from sendBundleToL1 calldata.
func DecodeBundle(calldata []byte) (ops []Op, err error) {
	method := chain.InteropCenterABI.Methods["sendBundleToL1"]
	if len(calldata) < 4 || !bytes.Equal(calldata[:4], method.ID) {
		return nil, fmt.Errorf("%w: not a sendBundleToL1 call", ErrMalformedCalldata)
	}
	args, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCalldata, err)
	}

	// ConvertType panics when the shapes disagree.
	defer func() {
		if r := recover(); r != nil {
			ops, err = nil, fmt.Errorf("%w: %v", ErrMalformedCalldata, r)
		}
	}()
	wire := *abi.ConvertType(args[0], new([]wireOp)).(*[]wireOp)

	ops = make([]Op, len(wire))
	for i, w := range wire {
		ops[i] = Op{Target: w.Target, Value: w.Value, Data: w.Data}
	}
	return ops, nil
}

// BorrowAmount returns the amount argument of the first borrow call made to
// pool.
func BorrowAmount(ops []Op, pool common.Address) (*big.Int, error) {
	method := chain.PoolABI.Methods["borrow"]
	for _, op := range ops {
		if op.Target != pool {
			continue
		}
		if len(op.Data) < 4 || !bytes.Equal(op.Data[:4], method.ID) {
			continue
		}
		args, err := method.Inputs.Unpack(op.Data[4:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCalldata, err)
		}
		amount, ok := args[1].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("%w: borrow amount is %T", ErrMalformedCalldata, args[1])
		}
		return amount, nil
	}
	return nil, ErrNoBorrowCall
}
