package relay

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"megatips/internal/contracts"
	"megatips/internal/ledger"
)

// SimulatedClient submits tips to an in-memory vault. FailWait makes every
// send behave as if the confirmation wait failed, returning only the hash.
type SimulatedClient struct {
	Vault    *ledger.Vault
	From     common.Address
	FailWait bool
}

func (s *SimulatedClient) RealtimeSend(ctx context.Context, req SendRequest) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	if err := validateSendRequest(req); err != nil {
		return SendResult{}, err
	}

	value, err := contracts.ParseEther(req.AmountEth)
	if err != nil {
		return SendResult{}, err
	}
	if value.Sign() < 0 {
		return SendResult{}, fmt.Errorf("invalid amount %s", req.AmountEth)
	}

	entry, err := s.Vault.Tip(s.From, common.HexToAddress(req.Recipient), value, req.Memo)
	if err != nil {
		return SendResult{}, err
	}

	if s.FailWait {
		return SendResult{TxHash: entry.TxHash.Hex()}, nil
	}
	return SendResult{
		Receipt: &Receipt{
			TransactionHash: entry.TxHash.Hex(),
			BlockNumber:     entry.BlockNumber,
		},
	}, nil
}

// Withdraw debits the From account.
func (s *SimulatedClient) Withdraw(_ context.Context, amount *big.Int) (common.Hash, error) {
	hash, err := s.Vault.Withdraw(s.From, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("withdraw tx: %w", err)
	}
	return hash, nil
}

func (s *SimulatedClient) Balance(_ context.Context, addr common.Address) (*big.Int, error) {
	return s.Vault.Balance(addr), nil
}

func (s *SimulatedClient) Ping(context.Context) error {
	return nil
}
