package contracts

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ContractError is a custom error declared by the vault and raised by a
// revert. It carries no payload beyond its name.
type ContractError struct {
	Name string
}

func (e *ContractError) Error() string {
	return "execution reverted: " + e.Name
}

// Is matches any ContractError with the same name.
func (e *ContractError) Is(target error) bool {
	var ce *ContractError
	if !errors.As(target, &ce) {
		return false
	}
	return ce.Name == e.Name
}

// ErrInsufficientBalance is raised when a withdrawal exceeds the caller's
// recorded balance.
var ErrInsufficientBalance = &ContractError{Name: "InsufficientBalance"}

// dataError matches rpc errors that carry revert data.
type dataError interface {
	ErrorData() interface{}
}

// DecodeRevert maps an error returned by the node onto the vault's custom
// errors. Errors without recognisable revert data are returned unchanged.
func DecodeRevert(err error) error {
	if err == nil {
		return nil
	}

	var de dataError
	if !errors.As(err, &de) {
		return err
	}

	var data []byte
	switch v := de.ErrorData().(type) {
	case string:
		b, decErr := hexutil.Decode(v)
		if decErr != nil {
			return err
		}
		data = b
	case []byte:
		data = v
	default:
		return err
	}

	if ce := MatchRevert(data); ce != nil {
		return ce
	}
	return err
}

// MatchRevert returns the custom error whose selector prefixes data, or nil.
func MatchRevert(data []byte) *ContractError {
	if len(data) < 4 {
		return nil
	}
	for name, abiErr := range tipsVault.Errors {
		if bytes.Equal(data[:4], abiErr.ID[:4]) {
			return &ContractError{Name: name}
		}
	}
	return nil
}
