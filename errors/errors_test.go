package errors

import (
	"fmt"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

func TestIs(t *testing.T) {
	t.Parallel()

	err := ErrAddressInUse.GenWithStackByArgs("tcp.router.main")
	require.True(t, Is(err, ErrAddressInUse))
	require.False(t, Is(err, ErrAddressNotFound))
	require.Contains(t, err.Error(), "address tcp.router.main is already in use")

	wrapped := ErrBindFailure.Wrap(fmt.Errorf("listen: address already in use")).GenWithStackByArgs("127.0.0.1:4000")
	require.True(t, Is(wrapped, ErrBindFailure))

	traced := errors.Annotate(ErrNodeShutdown.GenWithStackByArgs(), "start worker")
	require.True(t, Is(traced, ErrNodeShutdown))

	require.False(t, Is(nil, ErrNodeShutdown))
	require.False(t, Is(fmt.Errorf("plain"), ErrNodeShutdown))
}

func TestRFCCodes(t *testing.T) {
	t.Parallel()

	require.Equal(t, errors.RFCErrorCode("SNGO:ErrRegistration"), ErrRegistration.RFCCode())
	require.Equal(t, errors.RFCErrorCode("SNGO:ErrHandleClone"), ErrHandleClone.RFCCode())
}
