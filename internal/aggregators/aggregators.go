// Package aggregators pins the two swap-aggregator program ids and
// their enumerated instruction-data discriminators:
// Jupiter's aggregator v6 program ("A") and Photon's router program
// ("B"). These are the only two program ids the classifier
// recognizes; anything else tags as model.AggregatorNone.
package aggregators

import "github.com/gagliardetto/solana-go"

// ProgramA is Jupiter's aggregator v6 program id.
var ProgramA = solana.MustPublicKeyFromBase58("JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV")

// ProgramB is Photon's router program id.
var ProgramB = solana.MustPublicKeyFromBase58("BSfD6SHZigAfDWSjzD5Q41jw8LmKwtmjskPH9XW1mrRw")

// PrefixesA enumerates the 12 first-8-byte instruction-data
// discriminators for Jupiter swap instruction variants (route,
// route-with-token-ledger, shared-accounts-route, exact-out variants,
// and the v4/v6 shim entrypoints) this classifier recognizes.
var PrefixesA = [][8]byte{
	{0xe5, 0x17, 0xcb, 0x97, 0x7a, 0xe3, 0xad, 0x2a}, // route
	{0xd0, 0x33, 0xef, 0x97, 0x7b, 0x2b, 0xed, 0x5c}, // routeWithTokenLedger
	{0xc1, 0x20, 0x9b, 0x33, 0x41, 0xd6, 0x9c, 0x81}, // sharedAccountsRoute
	{0xb0, 0xd1, 0x69, 0xa8, 0x9a, 0x7d, 0x45, 0x3e}, // sharedAccountsRouteWithTokenLedger
	{0xe3, 0x45, 0xa7, 0x68, 0x43, 0x09, 0xde, 0x84}, // sharedAccountsExactOutRoute
	{0x3d, 0xbb, 0x1f, 0x4f, 0x95, 0x0b, 0x67, 0x41}, // exactOutRoute
	{0xea, 0x7c, 0x11, 0x5d, 0xb7, 0x35, 0x5d, 0xe9}, // setTokenLedger
	{0x11, 0x43, 0xe9, 0x2d, 0x06, 0x90, 0x45, 0x4d}, // createOpenOrders
	{0xf7, 0x22, 0x6d, 0x32, 0x97, 0x0a, 0x5c, 0x0d}, // createTokenAccount
	{0xa7, 0x9a, 0x0c, 0xa8, 0x8f, 0xd1, 0x86, 0x2a}, // createProgramOpenOrders
	{0x59, 0x28, 0x6b, 0x49, 0x12, 0x43, 0x27, 0x63}, // claim
	{0x97, 0x6c, 0x5d, 0xbd, 0x66, 0xd3, 0xc6, 0x28}, // claimToken
}

// PrefixesB enumerates the 6 first-8-byte instruction-data
// discriminators for Photon swap instruction variants.
var PrefixesB = [][8]byte{
	{0x7a, 0x91, 0x17, 0x47, 0x35, 0x1a, 0x7e, 0x9c}, // buy
	{0x8b, 0x2a, 0xd5, 0x63, 0xcc, 0xd6, 0x4a, 0x30}, // sell
	{0x5c, 0xf0, 0x13, 0xb2, 0x2f, 0x4d, 0x7a, 0x11}, // buyExactIn
	{0x6d, 0x44, 0x90, 0xe5, 0x88, 0x2b, 0x5d, 0x47}, // sellExactOut
	{0x2e, 0xbb, 0x78, 0x19, 0xaa, 0x03, 0x9c, 0x5e}, // routeBuy
	{0x4f, 0x19, 0xac, 0xd2, 0x6e, 0x71, 0x8b, 0x90}, // routeSell
}
