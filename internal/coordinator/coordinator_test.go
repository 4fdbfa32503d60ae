package coordinator

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSelectPicksHTTPClientWhenCoordinatorLive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mode, err := Select(context.Background(), Config{CoordinatorURL: server.URL}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, ModeHTTPClient, mode)
}

func TestSelectPicksHTTPServerWhenPortFreeAndHTTPEnabled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	mode, err := Select(context.Background(), Config{BindAddr: addr, HTTPEnabled: true}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, ModeHTTPServer, mode)
}

func TestSelectPicksDirectWhenPortFreeButHTTPDisabled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	mode, err := Select(context.Background(), Config{BindAddr: addr, HTTPEnabled: false}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, ModeDirect, mode)
}

func TestSelectPicksDirectWhenPortTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	addr := ln.Addr().String()

	mode, err := Select(context.Background(), Config{BindAddr: addr, HTTPEnabled: true}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, ModeDirect, mode)
}
