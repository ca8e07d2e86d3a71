package entities

import "testing"

func TestDefaultRegistryLookup(t *testing.T) {
	r := Default()

	if !r.IsCEX("0xF977814e90dA44bFA03b6295A0616a897441aceC") {
		t.Error("expected binance hot wallet to be CEX")
	}
	if !r.IsBridge("0xA0c68C638235ee32657e8f720a23ceC1bFc77C77") {
		t.Error("expected polygon bridge to be a bridge")
	}
	if !r.IsTerminal("0xF977814e90dA44bFA03b6295A0616a897441aceC") {
		t.Error("CEX must be terminal")
	}
	if !r.IsTerminal("0xA0c68C638235ee32657e8f720a23ceC1bFc77C77") {
		t.Error("bridge must be terminal")
	}
	if r.IsTerminal("0x0000000000000000000000000000000000dEaD") {
		t.Error("unregistered address must not be terminal")
	}
}

func TestCaseInsensitiveLookup(t *testing.T) {
	r := Default()
	lower := "0xf977814e90da44bfa03b6295a0616a897441acec"
	if !r.IsCEX(lower) {
		t.Error("lookup should be case-insensitive")
	}
}

func TestCategory(t *testing.T) {
	r := Default()
	cat, ok := r.Category("0xF977814e90dA44bFA03b6295A0616a897441aceC")
	if !ok || cat != "cex_binance" {
		t.Errorf("Category() = %q, %v, want cex_binance, true", cat, ok)
	}

	_, ok = r.Category("0x0000000000000000000000000000000000dEaD")
	if ok {
		t.Error("Category() should report false for unregistered address")
	}
}

func TestRegisterOverride(t *testing.T) {
	r := New(nil)
	addr := "0x1111111111111111111111111111111111111"
	if r.IsCEX(addr) {
		t.Fatal("empty registry should not classify anything")
	}
	r.Register(Entity{Address: addr, Kind: KindDEX, Name: "custom_dex"})
	if !r.IsDEX(addr) {
		t.Error("Register() should add a new lookup entry")
	}
}

func TestContractClassification(t *testing.T) {
	r := Default()
	if !r.IsContract("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174") {
		t.Error("USDC bridged contract should be classified as a contract")
	}
}
