package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from    string
		to      string
		allowed bool
	}{
		{TxStatusPending, TxStatusAuthorized, true},
		{TxStatusPending, TxStatusPaid, true}, // 渠道可能不单独推 authorized
		{TxStatusPending, TxStatusFailed, true},
		{TxStatusPending, TxStatusRefunded, false},

		{TxStatusAuthorized, TxStatusPaid, true},
		{TxStatusAuthorized, TxStatusFailed, true},
		{TxStatusAuthorized, TxStatusRefunded, true},
		{TxStatusAuthorized, TxStatusPending, false},

		{TxStatusPaid, TxStatusPendingConfirmation, true},
		{TxStatusPaid, TxStatusNoBillingRequired, true},
		{TxStatusPaid, TxStatusRefunded, true},
		{TxStatusPaid, TxStatusFailed, false},
		{TxStatusPaid, TxStatusAuthorized, false},

		{TxStatusPendingConfirmation, TxStatusPaid, true},
		{TxStatusPendingConfirmation, TxStatusRefunded, true},
		{TxStatusPendingConfirmation, TxStatusFailed, false},

		// 终态不再流转
		{TxStatusRefunded, TxStatusPaid, false},
		{TxStatusFailed, TxStatusPaid, false},
		{TxStatusNoBillingRequired, TxStatusPaid, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.allowed, CanTransitionTo(c.from, c.to),
			"%s -> %s", c.from, c.to)
	}
}

func TestIsNoopTransition(t *testing.T) {
	// 同状态重放：渠道重投同一事件时直接当成功处理
	allStatuses := []string{
		TxStatusPending, TxStatusAuthorized, TxStatusPaid,
		TxStatusPendingConfirmation, TxStatusNoBillingRequired,
		TxStatusRefunded, TxStatusFailed,
	}
	for _, s := range allStatuses {
		assert.True(t, IsNoopTransition(s, s))
		// 同状态绝不会同时是合法转移，两个分支互斥
		assert.False(t, CanTransitionTo(s, s))
	}
	assert.False(t, IsNoopTransition(TxStatusPending, TxStatusPaid))
}
