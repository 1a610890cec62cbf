package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoCrossBot/internal/adapters/logger"
	"cryptoCrossBot/internal/domain"
	"cryptoCrossBot/internal/ports"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (r *recordingSender) Send(ctx context.Context, title, message string) error {
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifier_Filter(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, []string{"trade", " stop_loss "}, logger.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, ports.Event{Type: ports.EventSignal, Symbol: "BTC/USDT"}))
	require.NoError(t, n.Notify(ctx, ports.Event{Type: ports.EventStopLoss, Symbol: "BTC/USDT", Side: domain.Sell}))
	require.NoError(t, n.Notify(ctx, ports.Event{Type: ports.EventTrade, Symbol: "BTC/USDT", Side: domain.Buy}))

	assert.Equal(t, []string{"STOP LOSS", "TRADE ALERT"}, rec.titles)
}

func TestNotifier_NoFilterAllowsAll(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, nil, logger.NewNopLogger())
	for _, et := range []ports.EventType{ports.EventSignal, ports.EventTrade, ports.EventError, ports.EventStatus} {
		require.NoError(t, n.Notify(context.Background(), ports.Event{Type: et}))
	}
	assert.Len(t, rec.titles, 4)
}

func TestNotifier_SenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, logger.NewNopLogger())

	err := n.Notify(context.Background(), ports.Event{Type: ports.EventStatus, Message: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Equal(t, []string{"hello"}, good.bodies)
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name      string
		event     ports.Event
		wantTitle string
		wantBody  string
	}{
		{
			name:      "buy trade",
			event:     ports.Event{Type: ports.EventTrade, Side: domain.Buy, Symbol: "BTC/USDT", Amount: 0.00015, Price: 60000},
			wantTitle: "TRADE ALERT",
			wantBody:  "*BUY* 0.00015 BTC/USDT at $60000.00\nTotal: $9.00",
		},
		{
			name:      "take profit sell",
			event:     ports.Event{Type: ports.EventTakeProfit, Side: domain.Sell, Symbol: "ETH/USDT", Amount: 2, Price: 110, ProfitLoss: 20},
			wantTitle: "TAKE PROFIT",
			wantBody:  "*SELL* 2 ETH/USDT at $110.00\nTotal: $220.00\nProfit/Loss: $20.00",
		},
		{
			name: "signal with sorted indicators",
			event: ports.Event{Type: ports.EventSignal, Signal: domain.SignalBuy, Symbol: "SOL/USDT", Price: 150,
				Indicators: map[string]float64{"rsi": 42.123, "macd": 1.5}},
			wantTitle: "SIGNAL ALERT",
			wantBody:  "*BUY SIGNAL* for SOL/USDT at $150.00\n\n*Indicators:*\n- macd: 1.50\n- rsi: 42.12",
		},
		{
			name:      "error",
			event:     ports.Event{Type: ports.EventError, Symbol: "XRP/USDT", Message: "cycle failed", Err: errors.New("timeout")},
			wantTitle: "ERROR ALERT",
			wantBody:  "XRP/USDT cycle failed: timeout",
		},
		{
			name:      "status",
			event:     ports.Event{Type: ports.EventStatus, Message: "bot started"},
			wantTitle: "STATUS",
			wantBody:  "bot started",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body := Format(tt.event)
			assert.Equal(t, tt.wantTitle, title)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sender := NewTelegramSender("TOKEN", "42").WithBaseURL(srv.URL)
	require.NoError(t, sender.Send(context.Background(), "STATUS", "bot started"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*STATUS*\n\nbot started", got["text"])
	assert.Equal(t, "Markdown", got["parse_mode"])
	assert.Equal(t, "telegram", sender.Name())
}

func TestTelegramSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	err := NewTelegramSender("bad", "42").WithBaseURL(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
