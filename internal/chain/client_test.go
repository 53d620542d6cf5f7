package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func rpcServer(t *testing.T, txResult string) *httptest.Server {
	return rpcServerAtSlot(t, txResult, 12349)
}

func rpcServerAtSlot(t *testing.T, txResult string, currentSlot uint64) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
		}
		switch req.Method {
		case "getTransaction":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%s}`, txResult)
		case "getSlot":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%d}`, currentSlot)
		default:
			t.Errorf("unexpected rpc method %q", req.Method)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{RPCURL: ts.URL, Treasury: "Treasury111"})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestLookupTransaction(t *testing.T) {
	ts := rpcServer(t, `{
		"slot": 12345,
		"meta": {
			"err": null,
			"preBalances": [500000000, 1000000000],
			"postBalances": [399995000, 1100000000]
		},
		"transaction": {
			"message": {
				"accountKeys": ["Payer111", "Treasury111"]
			}
		}
	}`)
	c := newTestClient(t, ts)

	info, err := c.LookupTransaction(context.Background(), "sig-1")
	if err != nil {
		t.Fatal(err)
	}
	if info.Sender != "Payer111" {
		t.Errorf("sender = %q, want Payer111", info.Sender)
	}
	if info.AmountToTreasury != 100_000_000 {
		t.Errorf("amount = %d lamports, want 100000000", info.AmountToTreasury)
	}
	if info.Slot != 12345 {
		t.Errorf("slot = %d, want 12345", info.Slot)
	}
	if info.Confirmations != 5 {
		t.Errorf("confirmations = %d, want 5 at current slot 12349", info.Confirmations)
	}
	if info.Failed {
		t.Error("successful transaction reported failed")
	}
}

func TestLookupTransactionSlotProbeFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method == "getSlot" {
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"node unhealthy"}}`)
			return
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{
			"slot": 100,
			"meta": {"err": null, "preBalances": [10, 20], "postBalances": [5, 25]},
			"transaction": {"message": {"accountKeys": ["Payer111", "Treasury111"]}}
		}}`)
	}))
	t.Cleanup(ts.Close)
	c := newTestClient(t, ts)

	info, err := c.LookupTransaction(context.Background(), "sig-1")
	if err != nil {
		t.Fatal(err)
	}
	if info.Confirmations != 0 {
		t.Errorf("confirmations = %d, want 0 when the slot probe fails", info.Confirmations)
	}
	if info.AmountToTreasury != 5 {
		t.Errorf("amount = %d, want 5; the lookup itself must still succeed", info.AmountToTreasury)
	}
}

func TestLookupTransactionNotFound(t *testing.T) {
	ts := rpcServer(t, `null`)
	c := newTestClient(t, ts)

	if _, err := c.LookupTransaction(context.Background(), "sig-1"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("want ErrTransactionNotFound, got %v", err)
	}
}

func TestLookupTransactionFailedOnChain(t *testing.T) {
	ts := rpcServer(t, `{
		"slot": 1,
		"meta": {
			"err": {"InstructionError": [0, "Custom"]},
			"preBalances": [],
			"postBalances": []
		},
		"transaction": {"message": {"accountKeys": ["Payer111"]}}
	}`)
	c := newTestClient(t, ts)

	info, err := c.LookupTransaction(context.Background(), "sig-1")
	if err != nil {
		t.Fatal(err)
	}
	if !info.Failed {
		t.Error("transaction with meta.err must report failed")
	}
}

func TestLookupTransactionNoTreasuryCredit(t *testing.T) {
	ts := rpcServer(t, `{
		"slot": 1,
		"meta": {"err": null, "preBalances": [10, 20], "postBalances": [5, 25]},
		"transaction": {"message": {"accountKeys": ["Payer111", "SomeoneElse111"]}}
	}`)
	c := newTestClient(t, ts)

	info, err := c.LookupTransaction(context.Background(), "sig-1")
	if err != nil {
		t.Fatal(err)
	}
	if info.AmountToTreasury != 0 {
		t.Errorf("amount = %d, want 0 when the treasury is not credited", info.AmountToTreasury)
	}
}

func TestCallSurfacesRPCError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`)
	}))
	t.Cleanup(ts.Close)
	c := newTestClient(t, ts)

	if _, err := c.Call(context.Background(), "getTransaction", nil); err == nil {
		t.Fatal("rpc error must be surfaced")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{Treasury: "x"}); err == nil {
		t.Error("missing RPC URL must be rejected")
	}
	if _, err := NewClient(Config{RPCURL: "http://localhost"}); err == nil {
		t.Error("missing treasury must be rejected")
	}
}
