package ledger

import (
	"encoding/hex"
	"sort"

	"golang.org/x/crypto/blake2b"
)

const (
	extrinsicVersionSigned = 0x84 // signed bit | version 4
	multiAddressID         = 0x00
	multiSignatureEd25519  = 0x00
	eraImmortal            = 0x00
)

// CallIndex locates run_process in the runtime.
type CallIndex struct {
	Pallet uint8
	Call   uint8
}

// chainInfo holds the values mixed into every signing payload.
type chainInfo struct {
	genesis     []byte
	specVersion uint32
	txVersion   uint32
}

// encodedOutput is an Output after roles and metadata have been resolved.
type encodedOutput struct {
	roles    map[uint8][]byte  // role index -> account id
	metadata map[string][]byte // key -> encoded MetadataValue
}

// encodeMetadataValue encodes the MetadataValue enum. payload is the content
// hash for FILE and the literal bytes for LITERAL.
func encodeMetadataValue(kind MetadataKind, payload []byte, tokenID int64) []byte {
	var e scaleEncoder
	switch kind {
	case MetadataFile:
		e.u8(0)
		e.vec(payload)
	case MetadataLiteral:
		e.u8(1)
		e.vec(payload)
	case MetadataTokenID:
		e.u8(2)
		e.u128(tokenID)
	default:
		e.u8(3)
	}
	return e.Bytes()
}

// encodeRunProcess encodes the run_process call with its arguments.
func encodeRunProcess(idx CallIndex, process ProcessID, inputs []int64, outputs []encodedOutput) []byte {
	var e scaleEncoder
	e.u8(idx.Pallet)
	e.u8(idx.Call)

	e.vec([]byte(process.ID))
	e.u32(process.Version)

	e.compact(uint64(len(inputs)))
	for _, in := range inputs {
		e.u128(in)
	}

	e.compact(uint64(len(outputs)))
	for _, out := range outputs {
		// BTreeMap encodings are ordered by key.
		roleKeys := make([]int, 0, len(out.roles))
		for k := range out.roles {
			roleKeys = append(roleKeys, int(k))
		}
		sort.Ints(roleKeys)
		e.compact(uint64(len(roleKeys)))
		for _, k := range roleKeys {
			e.u8(uint8(k))
			e.raw(out.roles[uint8(k)])
		}

		metaKeys := make([]string, 0, len(out.metadata))
		for k := range out.metadata {
			metaKeys = append(metaKeys, k)
		}
		sort.Strings(metaKeys)
		e.compact(uint64(len(metaKeys)))
		for _, k := range metaKeys {
			e.vec([]byte(k))
			e.raw(out.metadata[k])
		}
	}

	return e.Bytes()
}

// signedExtra encodes era, nonce and tip.
func signedExtra(nonce uint64) []byte {
	var e scaleEncoder
	e.u8(eraImmortal)
	e.compact(nonce)
	e.compact(0)
	return e.Bytes()
}

// buildSignedExtrinsic signs call and wraps it into a length-prefixed extrinsic.
func buildSignedExtrinsic(signer *Signer, info chainInfo, nonce uint64, call []byte) []byte {
	extra := signedExtra(nonce)

	var payload scaleEncoder
	payload.raw(call)
	payload.raw(extra)
	payload.u32(info.specVersion)
	payload.u32(info.txVersion)
	payload.raw(info.genesis)
	payload.raw(info.genesis) // immortal era checkpoint is genesis

	msg := payload.Bytes()
	if len(msg) > 256 {
		sum := blake2b.Sum256(msg)
		msg = sum[:]
	}
	sig := signer.Sign(msg)

	var body scaleEncoder
	body.u8(extrinsicVersionSigned)
	body.u8(multiAddressID)
	body.raw(signer.PublicKey())
	body.u8(multiSignatureEd25519)
	body.raw(sig)
	body.raw(extra)
	body.raw(call)

	var out scaleEncoder
	out.vec(body.Bytes())
	return out.Bytes()
}

// extrinsicHash returns the blake2b-256 hash of an encoded extrinsic.
func extrinsicHash(encoded []byte) string {
	sum := blake2b.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
