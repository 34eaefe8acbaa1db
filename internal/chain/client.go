package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Caller is the read side of a chain client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client is an ethclient with access to the zks_* namespace of the rollup node.
type Client struct {
	*ethclient.Client
	rpc *rpc.Client
}

func Dial(ctx context.Context, url string) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewClient(rc), nil
}

func NewClient(rc *rpc.Client) *Client {
	return &Client{Client: ethclient.NewClient(rc), rpc: rc}
}

// Call packs method, runs eth_call against to and unpacks the outputs.
func Call(ctx context.Context, c Caller, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// LogProof is the inclusion proof of an L2->L1 log.
type LogProof struct {
	BatchNumber *big.Int
	ID          *big.Int
	Proof       []common.Hash
	Root        common.Hash
}

func (p *LogProof) UnmarshalJSON(data []byte) error {
	var raw struct {
		BatchNumber      json.RawMessage `json:"batch_number"`
		BatchNumberCamel json.RawMessage `json:"batchNumber"`
		ID               json.RawMessage `json:"id"`
		Proof            []common.Hash   `json:"proof"`
		Root             common.Hash     `json:"root"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	batch := raw.BatchNumber
	if len(batch) == 0 {
		batch = raw.BatchNumberCamel
	}
	var err error
	if p.BatchNumber, err = parseQuantity(batch); err != nil {
		return fmt.Errorf("batch number: %w", err)
	}
	if p.ID, err = parseQuantity(raw.ID); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	p.Proof = raw.Proof
	p.Root = raw.Root
	return nil
}

// L2ToL1Log is one entry of a receipt's l2ToL1Logs.
type L2ToL1Log struct {
	Sender          common.Address
	Key             common.Hash
	Value           common.Hash
	TxNumberInBatch uint64
	TransactionHash common.Hash
	IsService       bool
}

func (l *L2ToL1Log) UnmarshalJSON(data []byte) error {
	var raw struct {
		Sender           common.Address  `json:"sender"`
		Key              common.Hash     `json:"key"`
		Value            common.Hash     `json:"value"`
		TxIndexInL1Batch json.RawMessage `json:"txIndexInL1Batch"`
		TxNumberInBlock  json.RawMessage `json:"tx_number_in_block"`
		TransactionHash  common.Hash     `json:"transactionHash"`
		IsService        bool            `json:"isService"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	txNum := raw.TxNumberInBlock
	if len(txNum) == 0 {
		txNum = raw.TxIndexInL1Batch
	}
	n, err := parseQuantity(txNum)
	switch {
	case errors.Is(err, errEmptyQuantity):
		n = new(big.Int)
	case err != nil:
		return fmt.Errorf("tx number in batch: %w", err)
	}
	*l = L2ToL1Log{
		Sender:          raw.Sender,
		Key:             raw.Key,
		Value:           raw.Value,
		TxNumberInBatch: n.Uint64(),
		TransactionHash: raw.TransactionHash,
		IsService:       raw.IsService,
	}
	return nil
}

// Log is a plain event log as returned inside a rollup receipt.
type Log struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

// Receipt is a rollup receipt including the L2->L1 messaging fields.
type Receipt struct {
	TxHash        common.Hash     `json:"transactionHash"`
	Status        hexutil.Uint64  `json:"status"`
	To            *common.Address `json:"to"`
	From          common.Address  `json:"from"`
	BlockNumber   *hexutil.Big    `json:"blockNumber"`
	L1BatchNumber *hexutil.Big    `json:"l1BatchNumber"`
	Logs          []Log           `json:"logs"`
	L2ToL1Logs    []L2ToL1Log     `json:"l2ToL1Logs"`
}

func (r *Receipt) Succeeded() bool { return r.Status == 1 }

// ReceiptWithL2ToL1 returns nil without error when the transaction is unknown
// or not yet mined.
func (c *Client) ReceiptWithL2ToL1(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var rcpt *Receipt
	if err := c.rpc.CallContext(ctx, &rcpt, "eth_getTransactionReceipt", hash); err != nil {
		return nil, fmt.Errorf("get receipt %s: %w", hash.Hex(), err)
	}
	return rcpt, nil
}

// L2ToL1LogProof returns nil without error while the proof is not available.
func (c *Client) L2ToL1LogProof(ctx context.Context, hash common.Hash, index int) (*LogProof, error) {
	var proof *LogProof
	if err := c.rpc.CallContext(ctx, &proof, "zks_getL2ToL1LogProof", hash, index); err != nil {
		return nil, fmt.Errorf("get log proof %s: %w", hash.Hex(), err)
	}
	return proof, nil
}

var errEmptyQuantity = errors.New("empty quantity")

// parseQuantity accepts JSON numbers, decimal strings and 0x-prefixed hex strings.
func parseQuantity(raw json.RawMessage) (*big.Int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errEmptyQuantity
	}
	s := string(raw)
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return hexutil.DecodeBig(s)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	return n, nil
}
