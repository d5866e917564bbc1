package staticanalysis

import (
	"github.com/zero-day-ai/auditcore/finding"
)

// catalog maps detector names to root-cause keys. It covers the Slither
// built-ins most relevant to fund safety and the custom detector suites
// (mev, l2, admin, crypto, emerging protocols, fcfs tiering).
var catalog = map[string]finding.RootCauseKey{
	// Slither built-ins.
	"reentrancy-eth":          "reentrancy:external-call:state-after-call",
	"reentrancy-no-eth":       "reentrancy:external-call:state-after-call",
	"reentrancy-benign":       "reentrancy:external-call:event-after-call",
	"arbitrary-send-eth":      "access:ether-transfer:arbitrary-destination",
	"arbitrary-send-erc20":    "access:token-transfer:arbitrary-from",
	"suicidal":                "access:selfdestruct:unprotected",
	"unprotected-upgrade":     "access:upgrade:unprotected-initializer",
	"controlled-delegatecall": "access:delegatecall:controlled-target",
	"tx-origin":               "access:authentication:tx-origin",
	"uninitialized-state":     "state:storage:uninitialized",
	"uninitialized-storage":   "state:storage:uninitialized-pointer",
	"unchecked-transfer":      "token:transfer:unchecked-return",
	"unchecked-lowlevel":      "external:low-level-call:unchecked-return",
	"unchecked-send":          "external:send:unchecked-return",
	"divide-before-multiply":  "math:precision:divide-before-multiply",
	"weak-prng":               "crypto:randomness:predictable",
	"timestamp":               "oracle:timestamp:manipulable",
	"incorrect-equality":      "math:comparison:strict-equality",
	"locked-ether":            "economic:ether:locked",
	"msg-value-loop":          "economic:msg-value:reused-in-loop",
	"delegatecall-loop":       "economic:msg-value:delegatecall-in-loop",

	// MEV.
	"mev-missing-slippage":    "mev:slippage:missing",
	"mev-excessive-slippage":  "mev:slippage:excessive",
	"mev-missing-deadline":    "mev:deadline:missing",
	"mev-flash-loan-enabler":  "economic:flash-loan:enabler",
	"mev-oracle-manipulation": "oracle:price:manipulable",

	// L2.
	"l2-sequencer-dependency": "oracle:sequencer:downtime-unchecked",
	"l2-message-risk":         "cross-chain:message:unvalidated",
	"l2-address-aliasing":     "cross-chain:address:aliasing-unhandled",
	"l2-gas-calculation":      "cross-chain:gas:miscalculated",
	"l2-reorg-risk":           "cross-chain:finality:reorg",

	// Admin.
	"admin-upgrade-no-timelock": "access:upgrade:no-timelock",
	"admin-shared-deployer":     "access:admin:deployer-is-admin",
	"l2-bridge-exit-risk":       "access:bridge:admin-drain",
	"admin-emergency-withdraw":  "access:emergency-withdraw:admin-drain",
	"admin-multisig-bypass":     "access:multisig:bypass",

	// Cryptographic primitives.
	"crypto-bn254-zero-point":    "crypto:bn254:zero-point",
	"crypto-rogue-key":           "crypto:bls:rogue-key",
	"crypto-sig-malleability":    "crypto:ecdsa:malleable-signature",
	"crypto-zk-verification-gap": "crypto:zk-proof:verification-gap",
	"crypto-precompile-gas-l2":   "crypto:precompile:gas-limit",

	// Emerging protocols.
	"restaking-slashing-risk":   "economic:slashing:cascade",
	"restaking-delegation-risk": "economic:delegation:manipulable",
	"intent-replay-risk":        "access:intent:replay",
	"solver-collusion-risk":     "economic:solver:collusion",
	"points-sybil-risk":         "economic:points:sybil",
	"merkle-proof-risk":         "access:merkle-proof:manipulable",

	// FCFS tiering.
	"fcfs-tier-boundary":       "math:tier-boundary:integer-division",
	"fcfs-ghost-staker":        "state:ranking:zero-amount-entry",
	"fcfs-cascade-dos":         "dos:tier-update:gas-exhaustion",
	"fcfs-position-gaming":     "economic:ranking:position-gaming",
	"fcfs-fenwick-consistency": "state:fenwick-tree:inconsistent",
}

// KeyForCheck returns the root-cause key for a detector. Unknown detectors
// map to static:<check>:detected.
func KeyForCheck(check string) finding.RootCauseKey {
	if key, ok := catalog[check]; ok {
		return key
	}
	return finding.NewRootCauseKey("static", check, "detected")
}

// KnownCheck reports whether a detector has a catalogued key.
func KnownCheck(check string) bool {
	_, ok := catalog[check]
	return ok
}
