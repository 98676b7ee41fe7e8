package settlement

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/dorkfun/backend/internal/config"
)

// escrowABI is the slice of the escrow contract surface the server
// drives. Deposits come from player wallets directly, never through
// here.
const escrowABI = `[
  {"type":"function","name":"createMatch","stateMutability":"nonpayable","inputs":[{"name":"matchId","type":"bytes32"},{"name":"gameId","type":"bytes32"},{"name":"players","type":"address[]"},{"name":"stake","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"proposeSettlement","stateMutability":"nonpayable","inputs":[{"name":"matchId","type":"bytes32"},{"name":"winner","type":"address"},{"name":"winnerShareBps","type":"uint16"},{"name":"transcriptHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"finalizeSettlement","stateMutability":"nonpayable","inputs":[{"name":"matchId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"cancelMatch","stateMutability":"nonpayable","inputs":[{"name":"matchId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"isFullyFunded","stateMutability":"view","inputs":[{"name":"matchId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"minimumStake","stateMutability":"view","inputs":[{"name":"gameId","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// ChainCoordinator drives the escrow contract with the operator key.
// Transactions are serialized under a mutex so the transactor's nonce
// management never races.
type ChainCoordinator struct {
	client  *ethclient.Client
	bound   *bind.BoundContract
	opts    *bind.TransactOpts
	gameIDs map[string][32]byte

	mu sync.Mutex
}

// NewFromConfig builds the chain coordinator, or the noop one when the
// chain settings are absent (free-play deployments, local dev).
func NewFromConfig(cfg *config.Config) (Coordinator, error) {
	if cfg.ChainRPCURL == "" || cfg.EscrowAddress == "" || cfg.OperatorKey == "" {
		log.Printf("[SETTLE] Chain settlement not configured, staked matches settle via noop")
		return NewNoop(), nil
	}
	return NewChainCoordinator(cfg.ChainRPCURL, cfg.EscrowAddress, cfg.OperatorKey, cfg.ChainID, cfg.GameContractIDs)
}

func NewChainCoordinator(rpcURL, contractAddr, operatorKeyHex string, chainID int64, gameTable string) (*ChainCoordinator, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("escrow address %q is not an address", contractAddr)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(chainID))
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}
	gameIDs, err := ParseGameIDTable(gameTable)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(contractAddr)
	log.Printf("[SETTLE] Escrow coordinator ready contract=%s operator=%s chain=%d",
		addr.Hex(), opts.From.Hex(), chainID)
	return &ChainCoordinator{
		client:  client,
		bound:   bind.NewBoundContract(addr, parsed, client, client, client),
		opts:    opts,
		gameIDs: gameIDs,
	}, nil
}

func (c *ChainCoordinator) Enabled() bool { return true }

func (c *ChainCoordinator) transact(ctx context.Context, method string, args ...interface{}) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	opts := *c.opts
	opts.Context = ctx
	tx, err := c.bound.Transact(&opts, method, args...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}
	return tx.Hash().Hex(), nil
}

func (c *ChainCoordinator) CreateMatch(ctx context.Context, matchID, gameID string, players []string, stakeWei string) (string, error) {
	mid, err := MatchIDBytes32(matchID)
	if err != nil {
		return "", err
	}
	gid, err := c.GameIDBytes32(gameID)
	if err != nil {
		return "", err
	}
	stake, ok := new(big.Int).SetString(stakeWei, 10)
	if !ok {
		return "", fmt.Errorf("stake %q is not a wei amount", stakeWei)
	}
	addrs := make([]common.Address, 0, len(players))
	for _, p := range players {
		if !common.IsHexAddress(p) {
			return "", fmt.Errorf("player %q is not an address", p)
		}
		addrs = append(addrs, common.HexToAddress(p))
	}
	return c.transact(ctx, "createMatch", mid, gid, addrs, stake)
}

func (c *ChainCoordinator) ProposeSettlement(ctx context.Context, matchID, winner string, winnerBps uint16, transcriptHash string) (string, error) {
	mid, err := MatchIDBytes32(matchID)
	if err != nil {
		return "", err
	}
	var winAddr common.Address
	if winner != "" {
		if !common.IsHexAddress(winner) {
			return "", fmt.Errorf("winner %q is not an address", winner)
		}
		winAddr = common.HexToAddress(winner)
	}
	var th [32]byte
	if transcriptHash != "" {
		raw, err := hex.DecodeString(transcriptHash)
		if err != nil || len(raw) != 32 {
			return "", fmt.Errorf("transcript hash %q is not 32 hex bytes", transcriptHash)
		}
		copy(th[:], raw)
	}
	return c.transact(ctx, "proposeSettlement", mid, winAddr, winnerBps, th)
}

func (c *ChainCoordinator) FinalizeSettlement(ctx context.Context, matchID string) (string, error) {
	mid, err := MatchIDBytes32(matchID)
	if err != nil {
		return "", err
	}
	return c.transact(ctx, "finalizeSettlement", mid)
}

func (c *ChainCoordinator) CancelMatch(ctx context.Context, matchID string) (string, error) {
	mid, err := MatchIDBytes32(matchID)
	if err != nil {
		return "", err
	}
	return c.transact(ctx, "cancelMatch", mid)
}

func (c *ChainCoordinator) IsFullyFunded(ctx context.Context, matchID string) (bool, error) {
	mid, err := MatchIDBytes32(matchID)
	if err != nil {
		return false, err
	}
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "isFullyFunded", mid); err != nil {
		return false, fmt.Errorf("isFullyFunded: %w", err)
	}
	funded, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("isFullyFunded: unexpected return %T", out[0])
	}
	return funded, nil
}

func (c *ChainCoordinator) MinimumStake(ctx context.Context, gameID string) (string, error) {
	gid, err := c.GameIDBytes32(gameID)
	if err != nil {
		return "", err
	}
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "minimumStake", gid); err != nil {
		return "", fmt.Errorf("minimumStake: %w", err)
	}
	min, ok := out[0].(*big.Int)
	if !ok {
		return "", fmt.Errorf("minimumStake: unexpected return %T", out[0])
	}
	return min.String(), nil
}

func (c *ChainCoordinator) GameIDBytes32(gameID string) ([32]byte, error) {
	if id, ok := c.gameIDs[gameID]; ok {
		return id, nil
	}
	return derivedGameID(gameID), nil
}
