package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestService_ResourceUsage(t *testing.T) {
	svc := NewService(t.TempDir(), zap.NewNop(), WithGPUProbe(func(context.Context) (string, error) {
		return "GPU 0: Tesla T4\n", nil
	}))

	usage, err := svc.ResourceUsage(context.Background())
	require.NoError(t, err)
	assert.Greater(t, usage.Memory.Total, uint64(0))
	assert.Greater(t, usage.CPU.Cores, 0)
	assert.GreaterOrEqual(t, usage.CPU.Percent, 0.0)
	assert.Equal(t, "GPU 0: Tesla T4\n", usage.GPU)
	if assert.NotNil(t, usage.Disk) {
		assert.Greater(t, usage.Disk.Total, uint64(0))
	}
}

func TestService_ResourceUsageWithoutGPU(t *testing.T) {
	for name, probe := range map[string]GPUProbe{
		"probe fails": func(context.Context) (string, error) { return "", errors.New("exec: \"nvidia-smi\": executable file not found") },
		"empty":       func(context.Context) (string, error) { return "  \n", nil },
	} {
		t.Run(name, func(t *testing.T) {
			svc := NewService("", zap.NewNop(), WithGPUProbe(probe))
			usage, err := svc.ResourceUsage(context.Background())
			require.NoError(t, err)
			assert.Equal(t, NoGPUStatus, usage.GPU)
			assert.Nil(t, usage.Disk)
		})
	}
}

func TestService_Reset(t *testing.T) {
	called := make(chan struct{})
	svc := NewService("", zap.NewNop(), WithTerminator(func() error {
		close(called)
		return nil
	}, time.Millisecond))

	svc.Reset()

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("terminator was not called")
	}
}
