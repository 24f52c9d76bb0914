package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikitrust/internal/config"
	localstore "github.com/JakeFAU/wikitrust/internal/storage/local"
	memorystore "github.com/JakeFAU/wikitrust/internal/storage/memory"
	"github.com/JakeFAU/wikitrust/internal/storage/postgres"
)

type mockCloser struct {
	mock.Mock
}

func (m *mockCloser) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func testConfig(backend string) config.Config {
	return config.Config{Storage: config.StorageConfig{Backend: backend}}
}

func TestNewSelectsBlobBackend(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(config.BackendMemory), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &memorystore.BlobStore{}, a.Blobs())
	assert.Nil(t, a.Publisher())

	cfg := testConfig(config.BackendLocal)
	cfg.Storage.LocalDir = t.TempDir()
	a, err = New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &localstore.BlobStore{}, a.Blobs())
	assert.Equal(t, cfg, a.Config())
	require.NoError(t, a.Close(context.Background()))
}

func TestStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(config.BackendMemory), zap.NewNop())
	require.NoError(t, err)
	_, err = a.Store(context.Background())
	require.ErrorContains(t, err, "db.dsn")
}

func TestStoreDialsOnce(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(config.BackendMemory), zap.NewNop())
	require.NoError(t, err)

	dials := 0
	a.dial = func(context.Context) (*postgres.Store, error) {
		dials++
		return &postgres.Store{}, nil
	}
	first, err := a.Store(context.Background())
	require.NoError(t, err)
	second, err := a.Store(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, dials)
	require.NoError(t, a.Close(context.Background()))
}

func TestCloseRunsInReverseAndJoinsErrors(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(config.BackendMemory), zap.NewNop())
	require.NoError(t, err)

	var order []string
	first := &mockCloser{}
	first.On("Close", mock.Anything).Run(func(mock.Arguments) { order = append(order, "first") }).Return(nil).Once()
	second := &mockCloser{}
	second.On("Close", mock.Anything).Run(func(mock.Arguments) { order = append(order, "second") }).
		Return(errors.New("flush failed")).Once()

	a.AddCloser("first", first)
	a.AddCloser("second", second)

	err = a.Close(context.Background())
	require.ErrorContains(t, err, "close second: flush failed")
	assert.Equal(t, []string{"second", "first"}, order)

	require.NoError(t, a.Close(context.Background()), "second close is a no-op")
	first.AssertExpectations(t)
	second.AssertExpectations(t)
}
