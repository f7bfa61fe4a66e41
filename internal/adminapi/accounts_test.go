package adminapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/routing"
)

func TestCreateAccountInstallsDirectRoute(t *testing.T) {
	h, _ := buildTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp := doRequest(t, srv, http.MethodPost, "/accounts", testAdminToken, map[string]any{
		"username": "carol", "ilp_address": "g.node.carol", "asset_code": "USD", "asset_scale": 2,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	entry, ok := h.cfg.Routes.Lookup(ilpaddr.MustParse("g.node.carol"))
	if !ok {
		t.Fatal("expected a route installed for the new account's ilp_address")
	}
	if entry.AccountID != "carol" {
		t.Fatalf("expected route to point at carol, got %s", entry.AccountID)
	}
}

func TestUpdateAccountMovesRouteToNewAddress(t *testing.T) {
	h, _ := buildTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp := doRequest(t, srv, http.MethodPut, "/accounts/bob", testAdminToken, map[string]any{
		"ilp_address": "g.node.bob-moved",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	entry, ok := h.cfg.Routes.Lookup(ilpaddr.MustParse("g.node.bob-moved"))
	if !ok || entry.AccountID != "bob" {
		t.Fatalf("expected route installed at the account's new address, got %+v ok=%v", entry, ok)
	}
}

func TestDeleteAccountWithdrawsItsRoutes(t *testing.T) {
	h, _ := buildTestHandler(t)
	// buildTestHandler seeds bob directly in the account store, bypassing
	// the create-account handler, so install its route the way createAccount
	// would have.
	h.cfg.Routes.Upsert("bob", routing.Route{Prefix: "g.node.bob"})
	srv := httptest.NewServer(h)
	defer srv.Close()

	if _, ok := h.cfg.Routes.Lookup(ilpaddr.MustParse("g.node.bob")); !ok {
		t.Fatal("expected bob's route present before delete")
	}

	resp := doRequest(t, srv, http.MethodDelete, "/accounts/bob", testAdminToken, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	if _, ok := h.cfg.Routes.Lookup(ilpaddr.MustParse("g.node.bob")); ok {
		t.Fatal("expected bob's route removed on delete")
	}
}
