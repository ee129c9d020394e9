package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// mockClient is a mock implementation of ClientInterface.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	cmd := redis.NewStatusCmd(ctx)
	if args.Error(1) != nil {
		cmd.SetErr(args.Error(1))
	} else {
		cmd.SetVal(args.String(0))
	}
	return cmd
}

func (m *mockClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	args := m.Called(ctx, key, value, expiration)
	cmd := redis.NewBoolCmd(ctx)
	if args.Error(1) != nil {
		cmd.SetErr(args.Error(1))
	} else {
		cmd.SetVal(args.Bool(0))
	}
	return cmd
}

func (m *mockClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	cmd := redis.NewStringCmd(ctx)
	if args.Error(1) != nil {
		cmd.SetErr(args.Error(1))
	} else {
		cmd.SetVal(args.String(0))
	}
	return cmd
}

func (m *mockClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	cmd := redis.NewIntCmd(ctx)
	if args.Error(1) != nil {
		cmd.SetErr(args.Error(1))
	} else {
		cmd.SetVal(args.Get(0).(int64))
	}
	return cmd
}

func (m *mockClient) Ping(ctx context.Context) *redis.StatusCmd {
	args := m.Called(ctx)
	cmd := redis.NewStatusCmd(ctx)
	if args.Error(1) != nil {
		cmd.SetErr(args.Error(1))
	} else {
		cmd.SetVal(args.String(0))
	}
	return cmd
}

func (m *mockClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestService_Set(t *testing.T) {
	mc := &mockClient{}
	svc := &Service{client: mc, config: &Config{}}

	mc.On("Set", mock.Anything, "key1", "value1", mock.Anything).Return("OK", nil)

	err := svc.Set(context.Background(), "key1", "value1", time.Minute)

	assert.NoError(t, err)
	mc.AssertExpectations(t)
}

func TestService_SetNX_FirstWriterWins(t *testing.T) {
	mc := &mockClient{}
	svc := &Service{client: mc, config: &Config{}}

	mc.On("SetNX", mock.Anything, "idem:abc", "1", mock.Anything).Return(true, nil)

	ok, err := svc.SetNX(context.Background(), "idem:abc", "1", time.Hour)

	assert.NoError(t, err)
	assert.True(t, ok)
	mc.AssertExpectations(t)
}

func TestService_Get_Miss(t *testing.T) {
	mc := &mockClient{}
	svc := &Service{client: mc, config: &Config{}}

	mc.On("Get", mock.Anything, "missing").Return("", redis.Nil)

	_, err := svc.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrMiss)
	mc.AssertExpectations(t)
}

func TestService_Get_Hit(t *testing.T) {
	mc := &mockClient{}
	svc := &Service{client: mc, config: &Config{}}

	mc.On("Get", mock.Anything, "present").Return("value", nil)

	val, err := svc.Get(context.Background(), "present")

	assert.NoError(t, err)
	assert.Equal(t, "value", val)
	mc.AssertExpectations(t)
}

func TestService_HealthCheck(t *testing.T) {
	mc := &mockClient{}
	svc := &Service{client: mc, config: &Config{}}

	mc.On("Ping", mock.Anything).Return("PONG", nil)

	assert.True(t, svc.HealthCheck(context.Background()))
	mc.AssertExpectations(t)
}

func TestService_Close(t *testing.T) {
	mc := &mockClient{}
	svc := &Service{client: mc, config: &Config{}}

	mc.On("Close").Return(nil)

	assert.NoError(t, svc.Close())
	mc.AssertExpectations(t)
}
