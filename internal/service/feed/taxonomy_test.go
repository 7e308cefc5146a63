package feed

import (
	"errors"
	"testing"
	"time"

	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_ServerUnavailable(t *testing.T) {
	msg, err := Decode("E:11:Server unavailable")
	require.NoError(t, err)

	feedErr := msg.(*entity.FeedError)
	classified := Classify(feedErr.Code, feedErr.Message)

	assert.True(t, classified.Known)
	assert.True(t, classified.Recoverable)
	assert.False(t, classified.Fatal)
	assert.True(t, ShouldReconnect(feedErr.Code))
	assert.Equal(t, 5000*time.Millisecond, RetryDelay(feedErr.Code))
}

func TestClassify_Unknown(t *testing.T) {
	classified := Classify(99, "something odd")

	assert.False(t, classified.Known)
	assert.False(t, classified.Recoverable)
	assert.False(t, classified.Fatal)
	assert.Equal(t, "something odd", classified.Message)
	assert.Equal(t, "something odd", classified.Raw)

	var target *ClassifiedError
	assert.True(t, errors.As(error(classified), &target))
}

func TestClassify_Flags(t *testing.T) {
	for _, code := range []int{3, 7, 9, 13, 17} {
		assert.True(t, IsFatal(code), code)
		assert.False(t, IsRecoverable(code), code)
	}
	for _, code := range []int{6, 8, 11, 12, 15} {
		assert.True(t, IsRecoverable(code), code)
		assert.False(t, IsFatal(code), code)
	}
	for _, code := range []int{1, 2, 4, 5, 10, 14, 16, 18} {
		assert.False(t, IsRecoverable(code), code)
		assert.False(t, IsFatal(code), code)
	}
}

func TestRoutingRules(t *testing.T) {
	tests := []struct {
		code      int
		reconnect bool
		retry     bool
		delay     time.Duration
	}{
		{code: 6, reconnect: true, delay: 30 * time.Second},
		{code: 8, reconnect: true, delay: 30 * time.Second},
		{code: 9, reconnect: true, delay: 10 * time.Second},
		{code: 11, reconnect: true, retry: true, delay: 5 * time.Second},
		{code: 12, reconnect: true, delay: 60 * time.Second},
		{code: 13, reconnect: true, delay: 10 * time.Second},
		{code: 15, retry: true, delay: 5 * time.Second},
		{code: 2, delay: 10 * time.Second},
		{code: 42, delay: 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.reconnect, ShouldReconnect(tt.code), tt.code)
		assert.Equal(t, tt.retry, ShouldRetryCommand(tt.code), tt.code)
		assert.Equal(t, tt.delay, RetryDelay(tt.code), tt.code)
	}
}

func TestSummary(t *testing.T) {
	summary := Summary()

	assert.Equal(t, 18, summary.TotalErrors)
	assert.Equal(t, []int{6, 8, 11, 12, 15}, summary.RecoverableCodes)
	assert.Equal(t, []int{3, 7, 9, 13, 17}, summary.FatalCodes)
	assert.Equal(t, []int{6, 7, 8, 9, 11, 12, 13}, summary.Categories["connection"])
	assert.Equal(t, []int{3, 7, 9, 17}, summary.Categories["permission"])
	assert.Equal(t, []int{1, 4, 5, 10, 14}, summary.Categories["parameter"])
	assert.Equal(t, []int{2, 16, 18}, summary.Categories["resource"])
	assert.Equal(t, []int{11, 12, 15}, summary.Categories["system"])
}
