package explorerclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/w3hc/vault-relay/internal/domain"
)

func TestGetTransfers_MapsKindsToExplorerActions(t *testing.T) {
	var seenActions []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenActions = append(seenActions, r.URL.Query().Get("action"))
		fmt.Fprint(w, `{"status":"1","message":"OK","result":[]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	kinds := []string{domain.TransferKindToken, domain.TransferKindNative, domain.TransferKindInternal}
	for _, kind := range kinds {
		if _, err := client.GetTransfers(context.Background(), "0xabc", kind); err != nil {
			t.Fatalf("%s: unexpected error %v", kind, err)
		}
	}

	want := []string{"tokentx", "txlist", "txlistinternal"}
	for i, action := range want {
		if seenActions[i] != action {
			t.Fatalf("kind %q hit action %q, expected %q", kinds[i], seenActions[i], action)
		}
	}
}

func TestGetTransfers_NormalizesCasingAndNumbers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"1","message":"OK","result":[
			{"blockNumber":"123","timeStamp":"1700000000","hash":"0xAbC","from":"0xFROM","to":"0xTO","value":"500"}
		]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	events, err := client.GetTransfers(context.Background(), "0xabc", domain.TransferKindToken)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}

	event := events[0]
	if event.TxHash != "0xabc" || event.From != "0xfrom" || event.To != "0xto" {
		t.Fatalf("expected lower-cased fields, got %+v", event)
	}
	if event.BlockNumber != 123 || event.BlockTimestamp != 1700000000 {
		t.Fatalf("numeric fields not parsed: %+v", event)
	}
	if event.Value != "500" {
		t.Fatalf("value must pass through untouched, got %q", event.Value)
	}
}

func TestGetTransfers_EmptyResultIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":"No transactions found"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	events, err := client.GetTransfers(context.Background(), "0xabc", domain.TransferKindNative)
	if err != nil {
		t.Fatalf("an empty account must not error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestGetTransfers_ServerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	if _, err := client.GetTransfers(context.Background(), "0xabc", domain.TransferKindToken); err == nil {
		t.Fatal("expected an error for a 502 response")
	}
}

func TestGetTransfers_UnknownKindRejected(t *testing.T) {
	client := NewClient("http://localhost:0", "")
	if _, err := client.GetTransfers(context.Background(), "0xabc", "bogus"); err == nil {
		t.Fatal("expected an error for an unknown transfer kind")
	}
}
