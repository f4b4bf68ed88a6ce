package xhci_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/halfdome/xhci/xhci"
)

func TestIsFatal(t *testing.T) {
	err := xhci.Fatalf("slot %d out of range", 9)
	assert.True(t, xhci.IsFatal(err))
	assert.True(t, xhci.IsFatal(fmt.Errorf("handling event: %w", err)))

	assert.False(t, xhci.IsFatal(nil))
	assert.False(t, xhci.IsFatal(xhci.ErrTransferFailed))
}
