package firehose

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSourceSubscribesAndAnswersPing(t *testing.T) {
	requests := make(chan SubscribeRequest, 1)
	pongs := make(chan SubscribeRequest, 1)
	tokens := make(chan string, 1)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.Header.Get(tokenHeader)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req SubscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		requests <- req

		_ = conn.WriteJSON(SubscribeUpdate{
			Filters: []string{"defi_accounts"},
			Account: &SubscribeUpdateAccount{
				Slot:    10,
				Account: &SubscribeUpdateAccountInfo{Pubkey: []byte{1, 2, 3}, Lamports: 5},
			},
		})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = conn.WriteJSON(SubscribeUpdate{Ping: &SubscribeUpdatePing{}})

		var pong SubscribeRequest
		if err := conn.ReadJSON(&pong); err != nil {
			return
		}
		pongs <- pong

		// Hold the connection open until the client goes away.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	src, err := NewSource(SourceConfig{
		Endpoint: wsURL(srv),
		Token:    "secret",
		Request:  DefiSubscription(nil, ""),
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	update, err := src.Recv(ctx)
	require.NoError(t, err)
	require.NotNil(t, update.Account)
	require.Equal(t, uint64(10), update.Account.Slot)
	require.Equal(t, []byte{1, 2, 3}, update.Account.Account.Pubkey)

	require.Equal(t, "secret", <-tokens)
	req := <-requests
	require.Equal(t, CommitmentConfirmed, req.Commitment)
	require.Contains(t, req.Accounts, "defi_accounts")

	_, err = src.Recv(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode firehose frame")

	update, err = src.Recv(ctx)
	require.NoError(t, err)
	require.NotNil(t, update.Ping)

	select {
	case pong := <-pongs:
		require.NotNil(t, pong.Ping)
		require.Equal(t, int32(1), pong.Ping.ID)
	case <-ctx.Done():
		t.Fatal("ping was not answered")
	}

	cancel()
	_, err = src.Recv(ctx)
	require.ErrorIs(t, err, io.EOF)
}

func TestSourceReportsDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	src, err := NewSource(SourceConfig{Endpoint: wsURL(srv), Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	_, err = src.Recv(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "dial firehose")
}

func TestNewSourceRequiresEndpoint(t *testing.T) {
	_, err := NewSource(SourceConfig{})
	require.Error(t, err)
}

func TestDefiSubscriptionDefaults(t *testing.T) {
	req := DefiSubscription(nil, "")
	require.Equal(t, CommitmentConfirmed, req.Commitment)
	require.Equal(t, DefaultPrograms(), req.Accounts[defiAccountsFilter].Owner)

	tx := req.Transactions[defiTransactionsFilter]
	require.NotNil(t, tx.Vote)
	require.False(t, *tx.Vote)
	require.NotNil(t, tx.Failed)
	require.False(t, *tx.Failed)
	require.Equal(t, DefaultPrograms(), tx.AccountInclude)

	raw, err := json.Marshal(DefiSubscription([]string{"Prog1111"}, CommitmentFinalized))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"owner":["Prog1111"]`)
	require.Contains(t, string(raw), `"commitment":"finalized"`)
}
