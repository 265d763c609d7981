package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stockbook/stockbook/internal/app"
	_ "github.com/stockbook/stockbook/testing"
)

func TestMainSkipsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
