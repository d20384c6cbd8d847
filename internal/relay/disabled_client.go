package relay

import "context"

// DisabledClient stands in when the relay cannot submit: the vault address
// or signing key is missing, or the settings are unusable. The server keeps
// running and every submission fails with Err, or ErrNotConfigured when Err
// is nil.
type DisabledClient struct {
	Err error
}

func (d DisabledClient) RealtimeSend(context.Context, SendRequest) (SendResult, error) {
	if d.Err != nil {
		return SendResult{}, d.Err
	}
	return SendResult{}, ErrNotConfigured
}
