package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEvent(t *testing.T) {
	assert.NoError(t, ValidateEvent(EventOrderCanceled, map[string]any{"order_id": "x"}))
	assert.NoError(t, ValidateEvent("unregistered", nil))

	err := ValidateEvent(EventSubmitFailed, map[string]any{"symbol": "AAPL"})
	assert.ErrorContains(t, err, "client_order_id")
	assert.ErrorContains(t, err, "attempts")
}

func TestKnownSorted(t *testing.T) {
	known := Known()
	assert.Len(t, known, 7)
	assert.IsIncreasing(t, known)
}
