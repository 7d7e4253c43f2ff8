package health

import (
	"context"
	"testing"

	"github.com/cuemby/embassyd/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestRunPackageCheckSuccess(t *testing.T) {
	res := RunPackageCheck(context.Background(), []string{"true"})
	require.Equal(t, types.HealthSuccess, res.Result.Kind)
}

func TestRunPackageCheckFailure(t *testing.T) {
	res := RunPackageCheck(context.Background(), []string{"false"})
	require.Equal(t, types.HealthFailure, res.Result.Kind)
}

func TestRunPackageCheckDisabledSentinel(t *testing.T) {
	res := RunPackageCheck(context.Background(), []string{"sh", "-c", "exit 59"})
	require.Equal(t, types.HealthDisabled, res.Result.Kind)
}

func TestRunPackageCheckNoCommandIsDisabled(t *testing.T) {
	res := RunPackageCheck(context.Background(), nil)
	require.Equal(t, types.HealthDisabled, res.Result.Kind)
}
