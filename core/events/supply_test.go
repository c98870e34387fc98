package events

import (
	"math/big"
	"testing"
)

func TestTokenSupplyEvent(t *testing.T) {
	evt := TokenSupply{
		Token:  "usds",
		Total:  big.NewInt(5000),
		Delta:  big.NewInt(250),
		Reason: SupplyReasonMint,
	}.Event()
	if evt == nil {
		t.Fatalf("expected event")
	}
	if evt.Type != TypeTokenSupply {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["token"] != "USDS" {
		t.Fatalf("unexpected token attr: %s", evt.Attributes["token"])
	}
	if evt.Attributes["total"] != "5000" || evt.Attributes["delta"] != "250" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["reason"] != SupplyReasonMint {
		t.Fatalf("unexpected reason: %s", evt.Attributes["reason"])
	}
}

func TestVaultMintedEvent(t *testing.T) {
	evt := VaultMinted{
		Collateral:    "usdc",
		USDsAmount:    big.NewInt(990),
		CollateralAmt: big.NewInt(1000),
		FeeAmount:     big.NewInt(10),
	}.Event()
	if evt.Type != TypeVaultMinted {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["collateral"] != "USDC" {
		t.Fatalf("unexpected collateral attr: %s", evt.Attributes["collateral"])
	}
	if evt.Attributes["minter"] != "" {
		t.Fatalf("zero minter must render empty, got %s", evt.Attributes["minter"])
	}
	if evt.Attributes["feeAmount"] != "10" {
		t.Fatalf("unexpected fee attr: %+v", evt.Attributes)
	}
}

func TestRecorderFiltersByType(t *testing.T) {
	rec := &Recorder{}
	rec.Emit(DripperCollected{Amount: big.NewInt(1)})
	rec.Emit(VaultRebased{Amount: big.NewInt(2)})
	rec.Emit(DripperCollected{Amount: big.NewInt(3)})
	if got := len(rec.OfType(TypeDripperCollected)); got != 2 {
		t.Fatalf("expected 2 collected events, got %d", got)
	}
	if got := len(rec.Events()); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
}
