package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityStatus_JSONRoundsUtilization(t *testing.T) {
	c := NewCapacityStatus(1, 2, 0)
	assert.InDelta(t, 66.666666, c.UtilizationRate, 1e-5)

	raw, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_beds":3,"available_beds":1,"occupied_beds":2,"maintenance_beds":0,"utilization_rate":66.7}`, string(raw))
}

func TestCapacityStatus_EmptyWard(t *testing.T) {
	raw, err := json.Marshal(NewCapacityStatus(0, 0, 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_beds":0,"available_beds":0,"occupied_beds":0,"maintenance_beds":0,"utilization_rate":0}`, string(raw))
}
