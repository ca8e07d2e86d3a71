// Package entities provides a static, in-process mapping from blockchain
// address to known entity (exchange, bridge, DEX) used to terminate
// funding-chain traces and to classify funding origins.
package entities

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind classifies a registered address.
type Kind string

const (
	KindCEX      Kind = "cex"
	KindBridge   Kind = "bridge"
	KindDEX      Kind = "dex"
	KindContract Kind = "contract"
	KindUnknown  Kind = "unknown"
)

// Entity describes one registered address.
type Entity struct {
	Address string
	Kind    Kind
	Name    string // e.g. "binance", "polygon_pos" — used to build OriginType strings
}

// Registry is a constant-time address→Entity lookup. The zero value is not
// usable; construct with New or Default.
type Registry struct {
	byAddr map[string]Entity
}

// New builds a Registry from an explicit entity list, letting callers
// override or extend the default table.
func New(entries []Entity) *Registry {
	r := &Registry{byAddr: make(map[string]Entity, len(entries))}
	for _, e := range entries {
		r.byAddr[normalize(e.Address)] = e
	}
	return r
}

// Default returns the compiled-in registry of well-known Polygon addresses.
func Default() *Registry {
	return New(defaultEntities)
}

func normalize(addr string) string {
	if common.IsHexAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return strings.ToLower(addr)
}

// Lookup returns the Entity registered for addr, if any.
func (r *Registry) Lookup(addr string) (Entity, bool) {
	e, ok := r.byAddr[normalize(addr)]
	return e, ok
}

// IsCEX reports whether addr is a known centralized-exchange address.
func (r *Registry) IsCEX(addr string) bool {
	e, ok := r.Lookup(addr)
	return ok && e.Kind == KindCEX
}

// IsBridge reports whether addr is a known cross-chain bridge address.
func (r *Registry) IsBridge(addr string) bool {
	e, ok := r.Lookup(addr)
	return ok && e.Kind == KindBridge
}

// IsDEX reports whether addr is a known decentralized-exchange address.
func (r *Registry) IsDEX(addr string) bool {
	e, ok := r.Lookup(addr)
	return ok && e.Kind == KindDEX
}

// IsTerminal reports whether addr should stop a funding-chain trace — a
// CEX or bridge.
func (r *Registry) IsTerminal(addr string) bool {
	e, ok := r.Lookup(addr)
	return ok && (e.Kind == KindCEX || e.Kind == KindBridge)
}

// IsContract reports whether addr is registered as a contract (including
// DEX routers and bridge contracts — any non-EOA entry).
func (r *Registry) IsContract(addr string) bool {
	e, ok := r.Lookup(addr)
	return ok && (e.Kind == KindContract || e.Kind == KindDEX || e.Kind == KindBridge)
}

// Category returns a namespaced origin-type string for a terminal entity,
// e.g. "cex_binance" or "bridge_polygon_pos", matching the
// types.OriginCEXPrefix/OriginBridgePrefix convention.
func (r *Registry) Category(addr string) (string, bool) {
	e, ok := r.Lookup(addr)
	if !ok {
		return "", false
	}
	switch e.Kind {
	case KindCEX:
		return "cex_" + e.Name, true
	case KindBridge:
		return "bridge_" + e.Name, true
	default:
		return string(e.Kind) + "_" + e.Name, true
	}
}

// Register adds or overwrites a single entry; used by callers that extend
// the default table at startup.
func (r *Registry) Register(e Entity) {
	r.byAddr[normalize(e.Address)] = e
}

// defaultEntities is the compiled-in table of well-known Polygon mainnet
// addresses: major CEX hot wallets, the canonical PoS bridges, and the
// USDC token contracts.
var defaultEntities = []Entity{
	{Address: "0xF977814e90dA44bFA03b6295A0616a897441aceC", Kind: KindCEX, Name: "binance"},
	{Address: "0x5041ed759Dd4aFc3a72b8192C143F72f4724081A", Kind: KindCEX, Name: "okx"},
	{Address: "0x0D0707963952f2fBA59dD06f2b425ace40b492Fe", Kind: KindCEX, Name: "gate_io"},
	{Address: "0x46340b20830761efd32832A74d7169B29FEB9758", Kind: KindCEX, Name: "crypto_com"},

	{Address: "0xA0c68C638235ee32657e8f720a23ceC1bFc77C77", Kind: KindBridge, Name: "polygon_pos"},
	{Address: "0x40ec5B33f54e0E8A33A975908C5BA1c14e5BbbDf", Kind: KindBridge, Name: "polygon_plasma"},

	// The USDC token contracts are registered as contracts (not terminal)
	// so funding-chain traces keep walking through them rather than
	// stopping at the token itself.
	{Address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", Kind: KindContract, Name: "usdc_bridged"},
	{Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Kind: KindContract, Name: "usdc_native"},
}
